package relational

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// InsertPendingBatch durably records a batch the bus failed to accept, so
// the reconciliation loop can redrive it later (§4.I).
func (g *Gateway) InsertPendingBatch(ctx context.Context, pb domain.PendingBatch) error {
	const sql = `INSERT INTO pending_batches
		(id, batch_type, transform_id, embedded_dataset_id, batch_key, bucket,
		 payload, retry_count, max_retries, last_error, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())`
	_, err := g.pool.Exec(ctx, sql, pb.ID, pb.BatchType, pb.TransformID, pb.EmbeddedDatasetID,
		pb.BatchKey, pb.Bucket, pb.Payload, pb.RetryCount, pb.MaxRetries, pb.LastError, pb.Status)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.InsertPendingBatch", err)
	}
	return nil
}

// ListDuePendingBatches returns open pending batches under their retry
// ceiling, the reconciliation loop's periodic redrive query.
func (g *Gateway) ListDuePendingBatches(ctx context.Context, limit int) ([]domain.PendingBatch, error) {
	if limit <= 0 {
		limit = 100
	}
	const sql = `SELECT id, batch_type, transform_id, embedded_dataset_id, batch_key, bucket,
		payload, retry_count, max_retries, last_error, status, created_at
		FROM pending_batches
		WHERE status = $1 AND retry_count < max_retries
		ORDER BY created_at ASC LIMIT $2`
	rows, err := g.pool.Query(ctx, sql, domain.PendingOpen, limit)
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "relational.ListDuePendingBatches", err)
	}
	defer rows.Close()

	var out []domain.PendingBatch
	for rows.Next() {
		pb, err := scanPendingBatch(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "relational.ListDuePendingBatches", err)
		}
		out = append(out, pb)
	}
	return out, rows.Err()
}

// MarkPendingBatchPublished flips a row to published once the bus accepts
// the redrive.
func (g *Gateway) MarkPendingBatchPublished(ctx context.Context, id string) error {
	const sql = `UPDATE pending_batches SET status = $1 WHERE id = $2`
	_, err := g.pool.Exec(ctx, sql, domain.PendingPublished, id)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.MarkPendingBatchPublished", err)
	}
	return nil
}

// IncrementPendingBatchRetry records a failed redrive attempt, moving the row
// to PendingFailed once it reaches max_retries, after which
// ListDuePendingBatches no longer returns it.
func (g *Gateway) IncrementPendingBatchRetry(ctx context.Context, id, lastErr string) error {
	const sql = `UPDATE pending_batches SET retry_count = retry_count + 1, last_error = $2,
		status = CASE WHEN retry_count + 1 >= max_retries THEN $3 ELSE status END
		WHERE id = $1`
	_, err := g.pool.Exec(ctx, sql, id, lastErr, domain.PendingFailed)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.IncrementPendingBatchRetry", err)
	}
	return nil
}

// ExpireStalePendingBatches marks pending rows that exhausted retries and
// still sit open as expired, so they stop showing up in ListDuePendingBatches.
func (g *Gateway) ExpireStalePendingBatches(ctx context.Context) (int64, error) {
	const sql = `UPDATE pending_batches SET status = $1
		WHERE status = $2 AND retry_count >= max_retries`
	tag, err := g.pool.Exec(ctx, sql, domain.PendingExpired, domain.PendingOpen)
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "relational.ExpireStalePendingBatches", err)
	}
	return tag.RowsAffected(), nil
}

func scanPendingBatch(rows pgx.Rows) (domain.PendingBatch, error) {
	var pb domain.PendingBatch
	err := rows.Scan(&pb.ID, &pb.BatchType, &pb.TransformID, &pb.EmbeddedDatasetID, &pb.BatchKey,
		&pb.Bucket, &pb.Payload, &pb.RetryCount, &pb.MaxRetries, &pb.LastError, &pb.Status, &pb.CreatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingBatch{}, err
	}
	return pb, err
}
