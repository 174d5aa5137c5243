// Package scanner is the scanner/dispatcher (§4.G): a periodic and
// triggered sweep over enabled transforms that turns unprocessed source
// material into batch artifacts in object store and dispatches a job per
// batch onto the durable bus, replaying any existing-but-undispatched
// artifacts before discovering new ones.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// jobKinds lists every kind the scanner's rate limiters and backpressure
// gate need a slot for.
var jobKinds = []bus.Kind{bus.KindCollectionTransform, bus.KindDatasetTransform, bus.KindVisualization}

// BackpressureThreshold is the queue depth past which a scan is skipped
// rather than adding to it, one per job kind. Visualization batches are
// heavier so its stream is throttled earlier.
var BackpressureThreshold = map[bus.Kind]int64{
	bus.KindCollectionTransform: 5000,
	bus.KindDatasetTransform:    5000,
	bus.KindVisualization:       200,
}

// Scanner holds the gateways the scan algorithm reads and writes, plus the
// backpressure gate and the embedder-encryption seam.
type Scanner struct {
	rel       *relational.Gateway
	obj       *objectstore.Gateway
	bus       *bus.Bus
	decryptor transform.APIKeyDecryptor
	bucket    string
	log       *slog.Logger

	retryOpts fn.RetryOpts
	// limiters caps how often this scanner checks queue depth per kind, so
	// a hot scan loop doesn't hammer JetStream's stream-info API.
	limiters map[bus.Kind]*rate.Limiter
}

// New builds a Scanner. decryptor resolves an embedder's encrypted API key
// (§4.G step 1); bucket is the object-store bucket batch artifacts and
// source files live in.
func New(rel *relational.Gateway, obj *objectstore.Gateway, b *bus.Bus, decryptor transform.APIKeyDecryptor, bucket string, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	limiters := make(map[bus.Kind]*rate.Limiter, len(jobKinds))
	for _, k := range jobKinds {
		limiters[k] = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &Scanner{
		rel:       rel,
		obj:       obj,
		bus:       b,
		decryptor: decryptor,
		bucket:    bucket,
		log:       log,
		retryOpts: fn.DefaultRetry,
		limiters:  limiters,
	}
}

// Run ticks every interval, scanning every enabled transform, until ctx is
// canceled. A single transform's error never stops the loop.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ScanAll(ctx)
		}
	}
}

// ScanAll is the periodic-mode sweep: every enabled transform, privileged.
func (s *Scanner) ScanAll(ctx context.Context) {
	transforms, err := s.rel.ListEnabledTransformsPrivileged(ctx)
	if err != nil {
		s.log.Error("scanner: list enabled transforms", "err", err)
		return
	}
	for _, t := range transforms {
		if err := s.scanOne(ctx, t); err != nil {
			s.log.Error("scanner: scan transform", "transform_id", t.ID, "kind", t.Kind, "err", err)
		}
	}
}

// Trigger is the triggered-mode entry point: the scanner-trigger consumer
// hands it one transform id after the stream's coalescing semantics
// guarantee exactly one replica sees each trigger.
func (s *Scanner) Trigger(ctx context.Context, transformID string) error {
	t, err := s.rel.GetTransformPrivileged(ctx, transformID)
	if err != nil {
		return err
	}
	return s.scanOne(ctx, t)
}

func (s *Scanner) scanOne(ctx context.Context, t domain.Transform) error {
	busKind, ok := bus.JobKindFor(t.Kind)
	if !ok {
		return domain.NewError(domain.KindValidation, "scanner.scanOne", domain.ErrUnknownKind)
	}
	if s.backpressureActive(ctx, busKind) {
		s.log.Warn("scanner: skipping scan, bus over backpressure threshold",
			"transform_id", t.ID, "kind", t.Kind)
		return nil
	}

	switch t.Kind {
	case domain.KindCollectionToDataset:
		return s.scanCollectionToDataset(ctx, t)
	case domain.KindDatasetToVectorStorage:
		return s.scanDatasetToVectorStorage(ctx, t)
	case domain.KindVisualization:
		return s.scanVisualization(ctx, t)
	default:
		return domain.NewError(domain.KindValidation, "scanner.scanOne", domain.ErrUnknownKind)
	}
}

// backpressureActive consults the work queue's depth at most once per
// second per kind, skipping the scan when it is above BackpressureThreshold.
func (s *Scanner) backpressureActive(ctx context.Context, k bus.Kind) bool {
	if !s.limiters[k].Allow() {
		return false
	}
	depth, err := s.bus.QueueDepth(ctx, "WORKERS_"+string(k))
	if err != nil {
		s.log.Warn("scanner: queue depth check failed, proceeding optimistically", "kind", k, "err", err)
		return false
	}
	return depth > BackpressureThreshold[k]
}

// publishOrPending implements step 6 of §4.G: publish with retry; on
// Failed, durably record the job so reconciliation can redrive it; on
// Published, the caller is responsible for advancing its ledger/stats
// counters. The returned outcome tells the caller which happened.
func (s *Scanner) publishOrPending(ctx context.Context, busKind bus.Kind, payload bus.JobPayload, msgID string) (bus.Outcome, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return bus.Failed, domain.NewError(domain.KindFatal, "scanner.publishOrPending", err)
	}

	outcome, pubErr := s.bus.PublishWithRetry(ctx, bus.WorkQueueSubject(busKind), msgID, raw, s.retryOpts)
	if outcome == bus.Published {
		return bus.Published, nil
	}

	pb := domain.PendingBatch{
		ID:                msgID,
		BatchType:         bus.DomainKindFor(busKind),
		TransformID:       payload.TransformID,
		EmbeddedDatasetID: payload.EmbeddedDatasetID,
		BatchKey:          payload.BatchKey,
		Bucket:            payload.Bucket,
		Payload:           json.RawMessage(raw),
		RetryCount:        0,
		MaxRetries:        5,
		LastError:         errString(pubErr),
		Status:            domain.PendingOpen,
	}
	if err := s.rel.InsertPendingBatch(ctx, pb); err != nil {
		return bus.Failed, fmt.Errorf("scanner: record pending batch after publish failure: %w", err)
	}
	s.log.Warn("scanner: publish failed, recorded pending batch", "batch_key", payload.BatchKey, "err", pubErr)
	return bus.Failed, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
