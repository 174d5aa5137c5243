package relational

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// GetEmbeddedDataset looks up the {dataset_id x embedder_id} materialization
// for a kind-2 transform.
func (g *Gateway) GetEmbeddedDataset(ctx context.Context, id string) (domain.EmbeddedDataset, error) {
	const sql = `SELECT id, source_dataset_id, embedder_id, collection_name,
		last_processed_at, dataset_transform_id FROM embedded_datasets WHERE id = $1`
	return scanEmbeddedDatasetRow(g.pool.QueryRow(ctx, sql, id))
}

// FindEmbeddedDataset looks up the row by its natural key, used by the
// scanner/transform layer to decide whether to create a new collection or
// reuse an existing one for (dataset, embedder).
func (g *Gateway) FindEmbeddedDataset(ctx context.Context, datasetID, embedderID string) (domain.EmbeddedDataset, error) {
	const sql = `SELECT id, source_dataset_id, embedder_id, collection_name,
		last_processed_at, dataset_transform_id
		FROM embedded_datasets WHERE source_dataset_id = $1 AND embedder_id = $2`
	return scanEmbeddedDatasetRow(g.pool.QueryRow(ctx, sql, datasetID, embedderID))
}

// CreateEmbeddedDataset inserts a new materialization row, used the first
// time a (dataset, embedder) pair is seen for a transform. Callers leave
// LastProcessedAt at its zero value so the first scan treats every existing
// dataset item as unprocessed; it is never initialized to now().
func (g *Gateway) CreateEmbeddedDataset(ctx context.Context, ed domain.EmbeddedDataset) (domain.EmbeddedDataset, error) {
	const sql = `INSERT INTO embedded_datasets
		(id, source_dataset_id, embedder_id, collection_name, last_processed_at, dataset_transform_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, source_dataset_id, embedder_id, collection_name, last_processed_at, dataset_transform_id`
	row := g.pool.QueryRow(ctx, sql, ed.ID, ed.SourceDatasetID, ed.EmbedderID, ed.CollectionName, ed.LastProcessedAt, ed.DatasetTransformID)
	return scanEmbeddedDatasetRow(row)
}

// TouchEmbeddedDataset advances last_processed_at, called after a successful
// batch result is applied.
func (g *Gateway) TouchEmbeddedDataset(ctx context.Context, id string) error {
	const sql = `UPDATE embedded_datasets SET last_processed_at = now() WHERE id = $1`
	tag, err := g.pool.Exec(ctx, sql, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.TouchEmbeddedDataset", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "relational.TouchEmbeddedDataset", nil)
	}
	return nil
}

// TouchEmbeddedDatasetTo advances last_processed_at to an explicit
// watermark, the scanner's step-8 write (it captures max(updated_at) over
// the scanned item set before any publish, closing the watermark race, so
// it must set that exact value rather than now()).
func (g *Gateway) TouchEmbeddedDatasetTo(ctx context.Context, id string, at time.Time) error {
	const sql = `UPDATE embedded_datasets SET last_processed_at = $2 WHERE id = $1`
	tag, err := g.pool.Exec(ctx, sql, id, at)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.TouchEmbeddedDatasetTo", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "relational.TouchEmbeddedDatasetTo", nil)
	}
	return nil
}

// DeleteEmbeddedDataset removes the materialization row. It does not delete
// the Qdrant collection; callers own that call alongside this one.
func (g *Gateway) DeleteEmbeddedDataset(ctx context.Context, id string) error {
	const sql = `DELETE FROM embedded_datasets WHERE id = $1`
	tag, err := g.pool.Exec(ctx, sql, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.DeleteEmbeddedDataset", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "relational.DeleteEmbeddedDataset", nil)
	}
	return nil
}

// EmbeddedDatasetsForEmbedder reports whether any embedded dataset still
// references embedderID, the check the embedder-deletion handler runs
// before allowing the delete (it must reject with ErrEmbedderInUse if any
// row comes back).
func (g *Gateway) EmbeddedDatasetsForEmbedder(ctx context.Context, embedderID string) ([]string, error) {
	const sql = `SELECT id FROM embedded_datasets WHERE embedder_id = $1`
	rows, err := g.pool.Query(ctx, sql, embedderID)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.EmbeddedDatasetsForEmbedder", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.EmbeddedDatasetsForEmbedder", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEmbeddedDatasetRow(row pgx.Row) (domain.EmbeddedDataset, error) {
	var ed domain.EmbeddedDataset
	err := row.Scan(&ed.ID, &ed.SourceDatasetID, &ed.EmbedderID, &ed.CollectionName,
		&ed.LastProcessedAt, &ed.DatasetTransformID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EmbeddedDataset{}, domain.NewError(domain.KindNotFound, "relational.EmbeddedDataset", err)
		}
		return domain.EmbeddedDataset{}, domain.NewError(domain.KindTransient, "relational.EmbeddedDataset", err)
	}
	return ed, nil
}
