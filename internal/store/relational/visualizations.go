package relational

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// GetVisualization reads a kind-3 output record by id.
func (g *Gateway) GetVisualization(ctx context.Context, id string) (domain.Visualization, error) {
	const sql = `SELECT id, transform_id, status, started_at, completed_at, artifact_key,
		point_count, cluster_count, error_message, stats FROM visualizations WHERE id = $1`
	return scanVisualizationRow(g.pool.QueryRow(ctx, sql, id))
}

// CreateVisualization inserts a new pending visualization row.
func (g *Gateway) CreateVisualization(ctx context.Context, v domain.Visualization) (domain.Visualization, error) {
	const sql = `INSERT INTO visualizations (id, transform_id, status, stats)
		VALUES ($1,$2,$3,$4)
		RETURNING id, transform_id, status, started_at, completed_at, artifact_key,
		point_count, cluster_count, error_message, stats`
	row := g.pool.QueryRow(ctx, sql, v.ID, v.TransformID, domain.VisualizationPending, v.Stats)
	return scanVisualizationRow(row)
}

// StartVisualization marks the row processing and stamps started_at.
func (g *Gateway) StartVisualization(ctx context.Context, id string) error {
	const sql = `UPDATE visualizations SET status = $1, started_at = now() WHERE id = $2`
	_, err := g.pool.Exec(ctx, sql, domain.VisualizationProcessing, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.StartVisualization", err)
	}
	return nil
}

// CompleteVisualization writes the finished artifact location and point
// counts, or an error message on failure.
func (g *Gateway) CompleteVisualization(ctx context.Context, id string, status domain.VisualizationStatus, artifactKey string, points, clusters int, errMsg string) error {
	return ApplyVisualizationResult(ctx, g.pool, id, status, artifactKey, points, clusters, errMsg)
}

// ApplyVisualizationResult is the transactional variant of
// CompleteVisualization, used by the listener so a kind-3 result lands in
// the same transaction as its ledger and stats writes.
func ApplyVisualizationResult(ctx context.Context, q querier, id string, status domain.VisualizationStatus, artifactKey string, points, clusters int, errMsg string) error {
	const sql = `UPDATE visualizations SET status = $2, completed_at = now(),
		artifact_key = $3, point_count = $4, cluster_count = $5, error_message = $6
		WHERE id = $1`
	_, err := q.Exec(ctx, sql, id, status, artifactKey, points, clusters, errMsg)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.ApplyVisualizationResult", err)
	}
	return nil
}

func scanVisualizationRow(row pgx.Row) (domain.Visualization, error) {
	var v domain.Visualization
	err := row.Scan(&v.ID, &v.TransformID, &v.Status, &v.StartedAt, &v.CompletedAt, &v.ArtifactKey,
		&v.PointCount, &v.ClusterCount, &v.ErrorMessage, &v.Stats)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Visualization{}, domain.NewError(domain.KindNotFound, "relational.Visualization", err)
		}
		return domain.Visualization{}, domain.NewError(domain.KindTransient, "relational.Visualization", err)
	}
	return v, nil
}
