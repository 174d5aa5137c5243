package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
)

// scanVisualization is the kind-3 shape of §4.G's algorithm: the unit of
// batch is the whole embedded dataset (UMAP+HDBSCAN runs once over every
// point in the collection), so there is no chunk-level batching — only a
// single job per run, guarded against overlap with any run still in flight.
func (s *Scanner) scanVisualization(ctx context.Context, t domain.Transform) error {
	processed, err := s.rel.ListProcessedBatchKeysForTransform(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list processed visualization runs: %w", err)
	}
	for _, status := range processed {
		if status == domain.BatchProcessing {
			return nil // a run is already in flight; nothing to do this tick
		}
	}

	for _, embedderID := range t.EmbedderIDs {
		if err := s.dispatchVisualizationRun(ctx, t, embedderID); err != nil {
			s.log.Error("scanner: dispatch visualization run", "transform_id", t.ID, "embedder_id", embedderID, "err", err)
		}
	}
	return nil
}

func (s *Scanner) dispatchVisualizationRun(ctx context.Context, t domain.Transform, embedderID string) error {
	viz, err := s.rel.CreateVisualization(ctx, domain.Visualization{
		ID:          fmt.Sprintf("%s-%s-%d", t.ID, embedderID, time.Now().UnixNano()),
		TransformID: t.ID,
	})
	if err != nil {
		return fmt.Errorf("create visualization row: %w", err)
	}

	batchKey := fmt.Sprintf("viz-%s", viz.ID)
	payload := bus.JobPayload{
		Kind:        bus.KindVisualization,
		TransformID: t.ID,
		BatchKey:    batchKey,
		Bucket:      s.bucket,
		ObjectKey:   viz.ID,
		EmbedderID:  embedderID,
	}
	msgID := bus.DispatchMsgID(t.ID, batchKey)
	outcome, err := s.publishOrPending(ctx, bus.KindVisualization, payload, msgID)
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
		return relational.IncrementDispatched(ctx, tx, t.ID, 0)
	})
}
