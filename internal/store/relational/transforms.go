package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// ListTransforms returns one owner-scoped page plus the total row count,
// computed via COUNT(*) OVER() in the same query.
func (g *Gateway) ListTransforms(ctx context.Context, opts domain.ListOpts) ([]domain.Transform, int, error) {
	if err := domain.ValidateListOpts(opts); err != nil {
		return nil, 0, err
	}
	sql, err := resolveListSQL(transformListSQL, opts.SortField, opts.SortDirection)
	if err != nil {
		return nil, 0, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := g.pool.Query(ctx, sql, opts.Owner, limit, opts.Offset)
	if err != nil {
		return nil, 0, domain.NewError(domain.KindTransient, "relational.ListTransforms", err)
	}
	defer rows.Close()

	var out []domain.Transform
	total := 0
	for rows.Next() {
		t, tot, err := scanTransform(rows)
		if err != nil {
			return nil, 0, domain.NewError(domain.KindTransient, "relational.ListTransforms", err)
		}
		total = tot
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.NewError(domain.KindTransient, "relational.ListTransforms", err)
	}
	return out, total, nil
}

// GetTransform reads a single transform scoped to its owner, failing with
// a NotFound-kind error if it belongs to someone else (or doesn't exist).
func (g *Gateway) GetTransform(ctx context.Context, owner, id string) (domain.Transform, error) {
	const sql = `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at FROM transforms WHERE owner_id = $1 AND id = $2`
	row := g.pool.QueryRow(ctx, sql, owner, id)
	return scanTransformRow(row)
}

// GetTransformPrivileged reads a transform without the owner filter. It
// bypasses row-level scope and must only be called by the scanner and
// reconciliation loop, never from a request handler.
func (g *Gateway) GetTransformPrivileged(ctx context.Context, id string) (domain.Transform, error) {
	const sql = `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at FROM transforms WHERE id = $1`
	row := g.pool.QueryRow(ctx, sql, id)
	return scanTransformRow(row)
}

// ListEnabledTransformsPrivileged is the scanner's periodic-mode read: every
// enabled transform across every owner, without row-level scope.
func (g *Gateway) ListEnabledTransformsPrivileged(ctx context.Context) ([]domain.Transform, error) {
	const sql = `SELECT id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at FROM transforms WHERE enabled = true`
	rows, err := g.pool.Query(ctx, sql)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListEnabledTransformsPrivileged", err)
	}
	defer rows.Close()

	var out []domain.Transform
	for rows.Next() {
		t, err := scanTransformNoTotal(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListEnabledTransformsPrivileged", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTransform inserts a new transform and returns the row as written.
func (g *Gateway) CreateTransform(ctx context.Context, t domain.Transform) (domain.Transform, error) {
	if err := domain.ValidateTransform(t); err != nil {
		return domain.Transform{}, err
	}
	const sql = `INSERT INTO transforms
		(id, title, owner_id, owner_name, kind, source_resource_id, target_resource_id,
		 embedder_ids, config, collection_mappings, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now(), now())
		RETURNING id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at`
	mappings, err := json.Marshal(t.CollectionMappings)
	if err != nil {
		return domain.Transform{}, domain.NewValidationError("collection_mappings", "", err)
	}
	row := g.pool.QueryRow(ctx, sql, t.ID, t.Title, t.Owner.ID, t.Owner.DisplayName, t.Kind,
		t.SourceResourceID, t.TargetResourceID, t.EmbedderIDs, t.Config, mappings, t.Enabled)
	return scanTransformRow(row)
}

// UpdateTransform writes the full row and returns it. collection_mappings
// already written are never renamed by this path; callers only add new
// keys (see transform.GenerateCollectionName's doc comment).
func (g *Gateway) UpdateTransform(ctx context.Context, t domain.Transform) (domain.Transform, error) {
	const sql = `UPDATE transforms SET title=$3, config=$4, collection_mappings=$5,
		enabled=$6, updated_at=now()
		WHERE owner_id=$1 AND id=$2
		RETURNING id, title, owner_id, owner_name, kind, source_resource_id,
		target_resource_id, embedder_ids, config, collection_mappings, enabled,
		created_at, updated_at`
	mappings, err := json.Marshal(t.CollectionMappings)
	if err != nil {
		return domain.Transform{}, domain.NewValidationError("collection_mappings", "", err)
	}
	row := g.pool.QueryRow(ctx, sql, t.Owner.ID, t.ID, t.Title, t.Config, mappings, t.Enabled)
	return scanTransformRow(row)
}

// DeleteTransform removes a transform; CASCADE in the schema removes its
// embedded datasets and ledger rows. Vector collections and object-store
// prefixes are NOT deleted here — the caller (the deletion handler) deletes
// them eagerly, with orphans later collected by reconciliation (§3).
func (g *Gateway) DeleteTransform(ctx context.Context, owner, id string) error {
	const sql = `DELETE FROM transforms WHERE owner_id=$1 AND id=$2`
	tag, err := g.pool.Exec(ctx, sql, owner, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.DeleteTransform", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewError(domain.KindNotFound, "relational.DeleteTransform", nil)
	}
	return nil
}

// VerifyOwnership checks many ids against a single owner in one round-trip,
// the batched variant §4.A requires to avoid an N+1 per-id ownership check.
func (g *Gateway) VerifyOwnership(ctx context.Context, owner string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}
	if len(ids) == 0 {
		return out, nil
	}
	const sql = `SELECT id FROM transforms WHERE owner_id = $1 AND id = ANY($2)`
	rows, err := g.pool.Query(ctx, sql, owner, ids)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.VerifyOwnership", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.VerifyOwnership", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// AggregateStats fetches TransformStats for many transform ids in one
// round-trip, the batched variant used by the stats/listing endpoint.
func (g *Gateway) AggregateStats(ctx context.Context, ids []string) (map[string]domain.TransformStats, error) {
	out := make(map[string]domain.TransformStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const sql = `SELECT transform_id, dispatched_batches, processing_batches,
		successful_batches, failed_batches, total_chunks_to_process, total_chunks_embedded,
		last_dispatched_at, last_completed_at
		FROM transform_stats WHERE transform_id = ANY($1)`
	rows, err := g.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.AggregateStats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s domain.TransformStats
		if err := rows.Scan(&s.TransformID, &s.DispatchedBatches, &s.ProcessingBatches,
			&s.SuccessfulBatches, &s.FailedBatches, &s.TotalChunksToProcess, &s.TotalChunksEmbedded,
			&s.LastDispatchedAt, &s.LastCompletedAt); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.AggregateStats", err)
		}
		out[s.TransformID] = s
	}
	return out, rows.Err()
}

func scanTransform(rows pgx.Rows) (domain.Transform, int, error) {
	var t domain.Transform
	var mappings []byte
	var total int
	err := rows.Scan(&t.ID, &t.Title, &t.Owner.ID, &t.Owner.DisplayName, &t.Kind,
		&t.SourceResourceID, &t.TargetResourceID, &t.EmbedderIDs, &t.Config, &mappings,
		&t.Enabled, &t.CreatedAt, &t.UpdatedAt, &total)
	if err != nil {
		return domain.Transform{}, 0, err
	}
	if err := json.Unmarshal(mappings, &t.CollectionMappings); err != nil {
		return domain.Transform{}, 0, err
	}
	return t, total, nil
}

func scanTransformNoTotal(rows pgx.Rows) (domain.Transform, error) {
	var t domain.Transform
	var mappings []byte
	err := rows.Scan(&t.ID, &t.Title, &t.Owner.ID, &t.Owner.DisplayName, &t.Kind,
		&t.SourceResourceID, &t.TargetResourceID, &t.EmbedderIDs, &t.Config, &mappings,
		&t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transform{}, err
	}
	if err := json.Unmarshal(mappings, &t.CollectionMappings); err != nil {
		return domain.Transform{}, err
	}
	return t, nil
}

func scanTransformRow(row pgx.Row) (domain.Transform, error) {
	var t domain.Transform
	var mappings []byte
	err := row.Scan(&t.ID, &t.Title, &t.Owner.ID, &t.Owner.DisplayName, &t.Kind,
		&t.SourceResourceID, &t.TargetResourceID, &t.EmbedderIDs, &t.Config, &mappings,
		&t.Enabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transform{}, domain.NewError(domain.KindNotFound, "relational.GetTransform", err)
		}
		return domain.Transform{}, domain.NewError(domain.KindTransient, "relational.GetTransform", err)
	}
	if err := json.Unmarshal(mappings, &t.CollectionMappings); err != nil {
		return domain.Transform{}, domain.NewError(domain.KindFatal, "relational.GetTransform", fmt.Errorf("decode collection_mappings: %w", err))
	}
	return t, nil
}
