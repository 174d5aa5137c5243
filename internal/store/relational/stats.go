package relational

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// IncrementDispatched bumps dispatched_batches and total_chunks_to_process
// when the scanner hands a batch to the bus. It is a transactional helper:
// the scanner calls it inside Gateway.WithTx alongside InsertProcessedBatch
// so the ledger row and the stats counters advance atomically.
func IncrementDispatched(ctx context.Context, q querier, transformID string, chunks int) error {
	const sql = `INSERT INTO transform_stats (transform_id, dispatched_batches, processing_batches,
		total_chunks_to_process, last_dispatched_at)
		VALUES ($1, 1, 1, $2, now())
		ON CONFLICT (transform_id) DO UPDATE SET
			dispatched_batches = transform_stats.dispatched_batches + 1,
			processing_batches = transform_stats.processing_batches + 1,
			total_chunks_to_process = transform_stats.total_chunks_to_process + $2,
			last_dispatched_at = now()`
	_, err := q.Exec(ctx, sql, transformID, chunks)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.IncrementDispatched", err)
	}
	return nil
}

// SetTotalChunksToProcess overwrites the running total_chunks_to_process
// counter, the scanner's step-2 refresh. Callers skip calling this when the
// freshly computed total already matches the stored one (spec's "skip if
// source is unchanged").
func SetTotalChunksToProcess(ctx context.Context, q querier, transformID string, total int64) error {
	const sql = `INSERT INTO transform_stats (transform_id, total_chunks_to_process)
		VALUES ($1, $2)
		ON CONFLICT (transform_id) DO UPDATE SET total_chunks_to_process = $2`
	_, err := q.Exec(ctx, sql, transformID, total)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.SetTotalChunksToProcess", err)
	}
	return nil
}

// SetTotalChunksToProcess is the standalone (non-transactional) variant for
// callers outside a WithTx block.
func (g *Gateway) SetTotalChunksToProcess(ctx context.Context, transformID string, total int64) error {
	return SetTotalChunksToProcess(ctx, g.pool, transformID, total)
}

// GetTotalChunksToProcess reads the current counter, used by the scanner to
// decide whether a refresh is a no-op.
func (g *Gateway) GetTotalChunksToProcess(ctx context.Context, transformID string) (int64, error) {
	const sql = `SELECT total_chunks_to_process FROM transform_stats WHERE transform_id = $1`
	var total int64
	err := g.pool.QueryRow(ctx, sql, transformID).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, domain.NewError(domain.KindTransient, "relational.GetTotalChunksToProcess", err)
	}
	return total, nil
}

// ApplyCompletion moves one batch out of processing into success or failed
// and, on success, adds the embedded chunk count. Call inside the same
// transaction as ApplyProcessedBatchResult so the ledger and the aggregate
// never disagree about an in-flight batch.
func ApplyCompletion(ctx context.Context, q querier, transformID string, success bool, chunksEmbedded int) error {
	var sql string
	var args []any
	if success {
		sql = `UPDATE transform_stats SET processing_batches = processing_batches - 1,
			successful_batches = successful_batches + 1,
			total_chunks_embedded = total_chunks_embedded + $2,
			last_completed_at = now()
			WHERE transform_id = $1`
		args = []any{transformID, chunksEmbedded}
	} else {
		sql = `UPDATE transform_stats SET processing_batches = processing_batches - 1,
			failed_batches = failed_batches + 1, last_completed_at = now()
			WHERE transform_id = $1`
		args = []any{transformID}
	}
	_, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.ApplyCompletion", err)
	}
	return nil
}
