package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
)

// chunksPerBatchMultiplier is the §4.G batching rule: embedder.batch_size*10
// chunks per dispatched batch.
const chunksPerBatchMultiplier = 10

// scanDatasetToVectorStorage implements the 8-step kind-2 algorithm, once
// per embedder the transform names (a transform may embed the same dataset
// through more than one embedder, each owning its own embedded dataset).
func (s *Scanner) scanDatasetToVectorStorage(ctx context.Context, t domain.Transform) error {
	for _, embedderID := range t.EmbedderIDs {
		if err := s.scanEmbeddedDataset(ctx, t, embedderID); err != nil {
			s.log.Error("scanner: scan embedded dataset", "transform_id", t.ID, "embedder_id", embedderID, "err", err)
		}
	}
	return nil
}

func (s *Scanner) scanEmbeddedDataset(ctx context.Context, t domain.Transform, embedderID string) error {
	// Step 1: fetch embedder config, decrypt API key. The scanner never
	// forwards the plaintext key onward; it only confirms the encryption
	// seam resolves before committing to a scan.
	embedder, err := s.rel.GetEmbedderConfigPrivileged(ctx, embedderID)
	if err != nil {
		return fmt.Errorf("fetch embedder config: %w", err)
	}
	if _, err := s.decryptor.DecryptAPIKey(ctx, embedder.EncryptedAPIKey); err != nil {
		return fmt.Errorf("decrypt embedder api key: %w", err)
	}

	ed, err := s.findOrCreateEmbeddedDataset(ctx, t, embedderID)
	if err != nil {
		return fmt.Errorf("resolve embedded dataset: %w", err)
	}

	// Step 2: refresh total_chunks_to_process, skipping the write when the
	// source hasn't changed since the last refresh.
	currentTotal, err := s.rel.CountDatasetChunks(ctx, t.SourceResourceID)
	if err != nil {
		return fmt.Errorf("count source dataset chunks: %w", err)
	}
	storedTotal, err := s.rel.GetTotalChunksToProcess(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("read stored total chunks: %w", err)
	}
	if currentTotal != storedTotal {
		if err := s.rel.SetTotalChunksToProcess(ctx, t.ID, currentTotal); err != nil {
			return fmt.Errorf("refresh total chunks to process: %w", err)
		}
	}

	// Step 3: read watermark + existing ledger keys.
	existingKeys, err := s.rel.ListProcessedBatchKeysForEmbeddedDataset(ctx, ed.ID)
	if err != nil {
		return fmt.Errorf("list processed batch keys: %w", err)
	}

	// Step 4: list batch artifacts already sitting in object store.
	prefix := fmt.Sprintf("embedded-datasets/embedded-dataset-%s/batches/", ed.ID)
	artifactKeys, err := s.obj.ListAll(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list existing batch artifacts: %w", err)
	}

	// Step 5: unprocessed-existing = artifact present, no ledger row yet.
	unprocessed := make([]string, 0, len(artifactKeys))
	for _, key := range artifactKeys {
		batchKey := objectKeyToBatchKey(key)
		if _, ok := existingKeys[batchKey]; !ok {
			unprocessed = append(unprocessed, batchKey)
		}
	}

	// Step 6: replay every unprocessed-existing batch before looking for new work.
	for _, batchKey := range unprocessed {
		if err := s.dispatchExistingBatch(ctx, t, ed, batchKey); err != nil {
			s.log.Error("scanner: dispatch existing batch", "batch_key", batchKey, "err", err)
		}
	}
	if len(unprocessed) > 0 {
		return nil
	}

	// Step 7: no unprocessed-existing batches remain — discover new items.
	items, err := s.rel.ListDatasetItemsUpdatedSince(ctx, t.SourceResourceID, ed.LastProcessedAt)
	if err != nil {
		return fmt.Errorf("list new dataset items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	watermark := maxUpdatedAt(items, ed.LastProcessedAt)

	records := make([]transform.ChunkRecord, 0, len(items)*4)
	for _, item := range items {
		records = append(records, transform.ChunksToRecords(ed.ID, item)...)
	}

	chunksPerBatch := embedder.BatchSize * chunksPerBatchMultiplier
	if chunksPerBatch <= 0 {
		chunksPerBatch = chunksPerBatchMultiplier
	}
	for i, batch := range splitChunks(records, chunksPerBatch) {
		batchKey := transform.BatchKey(i, batch)
		if err := s.dispatchNewBatch(ctx, t, ed, batchKey, batch); err != nil {
			s.log.Error("scanner: dispatch new batch", "batch_key", batchKey, "err", err)
		}
	}

	// Step 8: advance the watermark only after every publish attempt settled.
	if err := s.rel.TouchEmbeddedDatasetTo(ctx, ed.ID, watermark); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

func (s *Scanner) findOrCreateEmbeddedDataset(ctx context.Context, t domain.Transform, embedderID string) (domain.EmbeddedDataset, error) {
	ed, err := s.rel.FindEmbeddedDataset(ctx, t.SourceResourceID, embedderID)
	if err == nil {
		return ed, nil
	}
	if !isNotFound(err) {
		return domain.EmbeddedDataset{}, err
	}

	collectionName := t.CollectionMappings[transform.MappingKey(embedderID, "")]
	if collectionName == "" {
		collectionName = transform.GenerateCollectionName(t.SourceResourceID, embedderID, t.ID, t.Owner.ID)
	}
	return s.rel.CreateEmbeddedDataset(ctx, domain.EmbeddedDataset{
		ID:                 fmt.Sprintf("%s-%s", t.ID, embedderID),
		SourceDatasetID:    t.SourceResourceID,
		EmbedderID:         embedderID,
		CollectionName:     collectionName,
		DatasetTransformID: t.ID,
	})
}

func (s *Scanner) dispatchExistingBatch(ctx context.Context, t domain.Transform, ed domain.EmbeddedDataset, batchKey string) error {
	objectKey := transform.BatchObjectKey(ed.ID, batchKey)
	raw, err := s.obj.GetWithSizeCheck(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("read existing batch artifact: %w", err)
	}
	records, err := transform.UnmarshalBatchArtifact(raw)
	if err != nil {
		return fmt.Errorf("decode existing batch artifact: %w", err)
	}
	return s.dispatchBatch(ctx, t, ed, batchKey, objectKey, len(records))
}

func (s *Scanner) dispatchNewBatch(ctx context.Context, t domain.Transform, ed domain.EmbeddedDataset, batchKey string, records []transform.ChunkRecord) error {
	objectKey := transform.BatchObjectKey(ed.ID, batchKey)
	raw, err := transform.MarshalBatchArtifact(records)
	if err != nil {
		return fmt.Errorf("encode batch artifact: %w", err)
	}
	if err := s.obj.Put(ctx, objectKey, raw, "application/json"); err != nil {
		return fmt.Errorf("upload batch artifact: %w", err)
	}
	return s.dispatchBatch(ctx, t, ed, batchKey, objectKey, len(records))
}

func (s *Scanner) dispatchBatch(ctx context.Context, t domain.Transform, ed domain.EmbeddedDataset, batchKey, objectKey string, chunkCount int) error {
	payload := bus.JobPayload{
		Kind:              bus.KindDatasetTransform,
		TransformID:       t.ID,
		EmbeddedDatasetID: ed.ID,
		BatchKey:          batchKey,
		Bucket:            s.bucket,
		ObjectKey:         objectKey,
		ChunkCount:        chunkCount,
		EmbedderID:        ed.EmbedderID,
	}
	msgID := bus.DispatchMsgID(t.ID, batchKey)
	outcome, err := s.publishOrPending(ctx, bus.KindDatasetTransform, payload, msgID)
	if err != nil {
		return err
	}
	if outcome != bus.Published {
		return nil
	}
	return s.rel.WithTx(ctx, func(tx pgx.Tx) error {
		if err := relational.InsertProcessedBatch(ctx, tx, domain.ProcessedBatch{
			EmbeddedDatasetID: ed.ID,
			BatchKey:          batchKey,
			Status:            domain.BatchProcessing,
		}); err != nil {
			return err
		}
		return relational.IncrementDispatched(ctx, tx, t.ID, chunkCount)
	})
}

func objectKeyToBatchKey(key string) string {
	name := key
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".json")
}

func maxUpdatedAt(items []domain.DatasetItem, floor time.Time) time.Time {
	max := floor
	for _, item := range items {
		if item.UpdatedAt.After(max) {
			max = item.UpdatedAt
		}
	}
	return max
}

// splitChunks divides records into groups of at most size, preserving order.
func splitChunks(records []transform.ChunkRecord, size int) [][]transform.ChunkRecord {
	if size <= 0 || len(records) == 0 {
		if len(records) == 0 {
			return nil
		}
		return [][]transform.ChunkRecord{records}
	}
	var out [][]transform.ChunkRecord
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[i:end])
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
