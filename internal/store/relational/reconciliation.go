package relational

import (
	"context"
	"fmt"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// MarkPendingBatchFailed terminally fails a pending row outside the normal
// retry-counter path, used by orphan cleanup (§4.I pass 3) once its artifact
// has been deleted.
func (g *Gateway) MarkPendingBatchFailed(ctx context.Context, id string) error {
	const sql = `UPDATE pending_batches SET status = $1 WHERE id = $2`
	_, err := g.pool.Exec(ctx, sql, domain.PendingFailed, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.MarkPendingBatchFailed", err)
	}
	return nil
}

// ListOrphanedPendingBatches returns open pending rows older than maxAge,
// the reconciliation loop's pass-3 orphan query: these never got redriven
// (or were already exhausted) and are old enough that their artifact is
// assumed abandoned.
func (g *Gateway) ListOrphanedPendingBatches(ctx context.Context, maxAge time.Duration) ([]domain.PendingBatch, error) {
	const sql = `SELECT id, batch_type, transform_id, embedded_dataset_id, batch_key, bucket,
		payload, retry_count, max_retries, last_error, status, created_at
		FROM pending_batches
		WHERE status = $1 AND created_at < now() - $2::interval`
	rows, err := g.pool.Query(ctx, sql, domain.PendingOpen, fmtInterval(maxAge))
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListOrphanedPendingBatches", err)
	}
	defer rows.Close()

	var out []domain.PendingBatch
	for rows.Next() {
		pb, err := scanPendingBatch(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListOrphanedPendingBatches", err)
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// PurgeOldPendingBatches deletes published/expired rows older than before,
// the reconciliation loop's pass-4 ledger trim.
func (g *Gateway) PurgeOldPendingBatches(ctx context.Context, before time.Time) (int64, error) {
	const sql = `DELETE FROM pending_batches
		WHERE status IN ($1, $2) AND created_at < $3`
	tag, err := g.pool.Exec(ctx, sql, domain.PendingPublished, domain.PendingExpired, before)
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "relational.PurgeOldPendingBatches", err)
	}
	return tag.RowsAffected(), nil
}

// ListFailedBatchesForTransform returns every ledger row in BatchFailed
// status for a transform, the reconciliation loop's pass-2 failed-batch scan.
func (g *Gateway) ListFailedBatchesForTransform(ctx context.Context, transformID string) ([]domain.ProcessedBatch, error) {
	const sql = `SELECT transform_id, embedded_dataset_id, batch_key, status, created_at, updated_at
		FROM processed_batches WHERE transform_id = $1 AND status = $2`
	rows, err := g.pool.Query(ctx, sql, transformID, domain.BatchFailed)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListFailedBatchesForTransform", err)
	}
	defer rows.Close()

	var out []domain.ProcessedBatch
	for rows.Next() {
		var pb domain.ProcessedBatch
		if err := rows.Scan(&pb.TransformID, &pb.EmbeddedDatasetID, &pb.BatchKey, &pb.Status,
			&pb.CreatedAt, &pb.UpdatedAt); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListFailedBatchesForTransform", err)
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// ListStuckProcessingBatches returns ledger rows still in BatchProcessing
// whose created_at predates the stuck threshold, the reconciliation loop's
// pass-5 detector. It never resets them; that decision is an operator's.
func (g *Gateway) ListStuckProcessingBatches(ctx context.Context, threshold time.Duration) ([]domain.ProcessedBatch, error) {
	const sql = `SELECT transform_id, embedded_dataset_id, batch_key, status, created_at, updated_at
		FROM processed_batches
		WHERE status = $1 AND created_at < now() - $2::interval`
	rows, err := g.pool.Query(ctx, sql, domain.BatchProcessing, fmtInterval(threshold))
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListStuckProcessingBatches", err)
	}
	defer rows.Close()

	var out []domain.ProcessedBatch
	for rows.Next() {
		var pb domain.ProcessedBatch
		if err := rows.Scan(&pb.TransformID, &pb.EmbeddedDatasetID, &pb.BatchKey, &pb.Status,
			&pb.CreatedAt, &pb.UpdatedAt); err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListStuckProcessingBatches", err)
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// fmtInterval renders a Go duration as a Postgres interval literal
// ("3600 seconds"), avoiding a second query parameter type for what's
// otherwise a plain numeric cast.
func fmtInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
