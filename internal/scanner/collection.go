package scanner

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
)

// scanCollectionToDataset is the kind-1 shape of §4.G's algorithm: the unit
// of batch is one source file rather than a chunk group, and there is no
// embedder or watermark dimension — idempotency rests entirely on the
// per-file ledger row keyed by transform_id.
func (s *Scanner) scanCollectionToDataset(ctx context.Context, t domain.Transform) error {
	prefix := transform.CollectionObjectKey(t.SourceResourceID, "")
	files, err := s.obj.ListAll(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list collection files: %w", err)
	}

	processed, err := s.rel.ListProcessedBatchKeysForTransform(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list processed files: %w", err)
	}

	for _, key := range files {
		batchKey := objectKeyToBatchKey(key)
		if _, ok := processed[batchKey]; ok {
			continue
		}
		if err := s.dispatchCollectionFile(ctx, t, batchKey, key); err != nil {
			s.log.Error("scanner: dispatch collection file", "transform_id", t.ID, "batch_key", batchKey, "err", err)
		}
	}
	return nil
}

func (s *Scanner) dispatchCollectionFile(ctx context.Context, t domain.Transform, batchKey, objectKey string) error {
	payload := bus.JobPayload{
		Kind:        bus.KindCollectionTransform,
		TransformID: t.ID,
		BatchKey:    batchKey,
		Bucket:      s.bucket,
		ObjectKey:   objectKey,
		ChunkCount:  1,
	}
	msgID := bus.DispatchMsgID(t.ID, batchKey)
	outcome, err := s.publishOrPending(ctx, bus.KindCollectionTransform, payload, msgID)
	if err != nil {
		return err
	}
	if outcome != bus.Published {
		return nil
	}
	return s.rel.WithTx(ctx, func(tx pgx.Tx) error {
		if err := relational.InsertProcessedBatch(ctx, tx, domain.ProcessedBatch{
			TransformID: t.ID,
			BatchKey:    batchKey,
			Status:      domain.BatchProcessing,
		}); err != nil {
			return err
		}
		return relational.IncrementDispatched(ctx, tx, t.ID, 1)
	})
}
