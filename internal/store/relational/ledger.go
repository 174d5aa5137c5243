package relational

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// GetProcessedBatch looks up a ledger row by its composite key, the
// idempotency check the scanner/listener run before dispatching or applying
// a result (§4.H step 1 and step 3).
func (g *Gateway) GetProcessedBatch(ctx context.Context, key string) (domain.ProcessedBatch, error) {
	return getProcessedBatch(ctx, g.pool, key)
}

// InsertProcessedBatch writes a new ledger row in BatchProcessing state. It
// is a transactional helper: callers inside Gateway.WithTx pass tx directly
// so the insert and any sibling write commit atomically.
func InsertProcessedBatch(ctx context.Context, q querier, pb domain.ProcessedBatch) error {
	const sql = `INSERT INTO processed_batches
		(transform_id, embedded_dataset_id, batch_key, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		ON CONFLICT (transform_id, embedded_dataset_id, batch_key) DO NOTHING`
	_, err := q.Exec(ctx, sql, pb.TransformID, pb.EmbeddedDatasetID, pb.BatchKey, pb.Status)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.InsertProcessedBatch", err)
	}
	return nil
}

// ApplyProcessedBatchResult transitions a ledger row's status inside an open
// transaction, validating the transition first so a redelivered or
// out-of-order result can never move a batch out of terminal success.
func ApplyProcessedBatchResult(ctx context.Context, q querier, key string, next domain.BatchStatus) error {
	prev, err := getProcessedBatch(ctx, q, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := domain.ValidateStatusTransition(prev.Status, next); err != nil {
		return err
	}
	const sql = `UPDATE processed_batches SET status = $1, updated_at = now()
		WHERE (transform_id || '/' || batch_key = $2) OR (embedded_dataset_id || '/' || batch_key = $2)`
	_, err = q.Exec(ctx, sql, next, key)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.ApplyProcessedBatchResult", err)
	}
	return nil
}

func getProcessedBatch(ctx context.Context, q querier, key string) (domain.ProcessedBatch, error) {
	const sql = `SELECT transform_id, embedded_dataset_id, batch_key, status, created_at, updated_at
		FROM processed_batches
		WHERE (transform_id || '/' || batch_key = $1) OR (embedded_dataset_id || '/' || batch_key = $1)`
	row := q.QueryRow(ctx, sql, key)
	var pb domain.ProcessedBatch
	err := row.Scan(&pb.TransformID, &pb.EmbeddedDatasetID, &pb.BatchKey, &pb.Status, &pb.CreatedAt, &pb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ProcessedBatch{}, domain.NewError(domain.KindNotFound, "relational.GetProcessedBatch", err)
		}
		return domain.ProcessedBatch{}, domain.NewError(domain.KindTransient, "relational.GetProcessedBatch", err)
	}
	return pb, nil
}

// ListProcessedBatchKeysForEmbeddedDataset returns every ledger batch_key
// already recorded for an embedded dataset, the scanner's step-3 read used
// to compute the unprocessed-existing-batches set against an object-store
// listing.
func (g *Gateway) ListProcessedBatchKeysForEmbeddedDataset(ctx context.Context, embeddedDatasetID string) (map[string]domain.BatchStatus, error) {
	const sql = `SELECT batch_key, status FROM processed_batches WHERE embedded_dataset_id = $1`
	rows, err := g.pool.Query(ctx, sql, embeddedDatasetID)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListProcessedBatchKeysForEmbeddedDataset", err)
	}
	defer rows.Close()

	out := make(map[string]domain.BatchStatus)
	for rows.Next() {
		var key string
		var status domain.BatchStatus
		if err := rows.Scan(&key, &status); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListProcessedBatchKeysForEmbeddedDataset", err)
		}
		out[key] = status
	}
	return out, rows.Err()
}

// ListProcessedBatchKeysForTransform is the kind-1 analogue, keyed by
// transform_id (kind-1 batches are per source file, not per embedded
// dataset).
func (g *Gateway) ListProcessedBatchKeysForTransform(ctx context.Context, transformID string) (map[string]domain.BatchStatus, error) {
	const sql = `SELECT batch_key, status FROM processed_batches WHERE transform_id = $1`
	rows, err := g.pool.Query(ctx, sql, transformID)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListProcessedBatchKeysForTransform", err)
	}
	defer rows.Close()

	out := make(map[string]domain.BatchStatus)
	for rows.Next() {
		var key string
		var status domain.BatchStatus
		if err := rows.Scan(&key, &status); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListProcessedBatchKeysForTransform", err)
		}
		out[key] = status
	}
	return out, rows.Err()
}

// ListBatchesForTransform returns the UI-facing batch aggregates for one
// transform, most recent first.
func (g *Gateway) ListBatchesForTransform(ctx context.Context, transformID string, limit int) ([]domain.DatasetTransformBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	const sql = `SELECT transform_id, batch_key, status, chunk_count, duration_ms, created_at, completed_at
		FROM processed_batches WHERE transform_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := g.pool.Query(ctx, sql, transformID, limit)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListBatchesForTransform", err)
	}
	defer rows.Close()

	var out []domain.DatasetTransformBatch
	for rows.Next() {
		var b domain.DatasetTransformBatch
		if err := rows.Scan(&b.TransformID, &b.BatchKey, &b.Status, &b.ChunkCount, &b.DurationMS,
			&b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListBatchesForTransform", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
