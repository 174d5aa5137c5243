// Package reconciler is the reconciliation loop (§4.I): a five-pass sweep
// on a timer that heals the durable bus's failure modes — publish failures
// recorded in pending_batches, batches the ledger marked failed, abandoned
// pending rows, ledger bloat, and batches stuck in processing.
package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/metrics"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// Defaults per §4.I.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultOrphanAge      = 24 * time.Hour
	DefaultPurgeAge       = 7 * 24 * time.Hour
	DefaultStuckThreshold = 2 * time.Hour
	DefaultBatchLimit     = 100
)

// Metrics counts what each pass did in one cycle, so the dashboard can
// distinguish "we healed N things" from "N things are ongoing" (§4.I).
type Metrics struct {
	PendingRepublished int
	PendingRetried     int
	PendingFailed      int
	FailedRecovered    int
	FailedPermanent    int
	OrphansCleaned     int
	LedgerTrimmed      int64
	StuckDetected      int
}

// counters is the five named series §4.I requires, one Prometheus counter
// per pass outcome.
type counters struct {
	pendingRetried    prometheus.Counter
	failedRecovered   prometheus.Counter
	orphansCleaned    prometheus.Counter
	ledgerTrimmed     prometheus.Counter
	stuckDetected     prometheus.Counter
}

func newCounters(reg *metrics.Registry) counters {
	return counters{
		pendingRetried:  reg.Counter("reconcile_pending_retried_total", "pending_batches rows redriven or marked failed by the retry pass"),
		failedRecovered: reg.Counter("reconcile_failed_recovered_total", "ledger rows in failed status republished after their artifact was confirmed present"),
		orphansCleaned:  reg.Counter("reconcile_orphans_cleaned_total", "abandoned pending_batches rows cleaned up past the orphan age threshold"),
		ledgerTrimmed:   reg.Counter("reconcile_ledger_trimmed_total", "settled pending_batches rows purged past the retention threshold"),
		stuckDetected:   reg.Counter("reconcile_stuck_detected_total", "ledger rows observed stuck in processing past the stuck threshold"),
	}
}

// Reconciler drives the five passes.
type Reconciler struct {
	rel    *relational.Gateway
	obj    *objectstore.Gateway
	bus    *bus.Bus
	bucket string
	log    *slog.Logger

	retryOpts fn.RetryOpts
	counters  counters

	BatchLimit     int
	OrphanAge      time.Duration
	PurgeAge       time.Duration
	StuckThreshold time.Duration
}

// New builds a Reconciler with the spec's default thresholds, registering
// its five pass counters into reg.
func New(rel *relational.Gateway, obj *objectstore.Gateway, b *bus.Bus, bucket string, reg *metrics.Registry, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		rel:            rel,
		obj:            obj,
		bus:            b,
		bucket:         bucket,
		log:            log,
		retryOpts:      fn.DefaultRetry,
		counters:       newCounters(reg),
		BatchLimit:     DefaultBatchLimit,
		OrphanAge:      DefaultOrphanAge,
		PurgeAge:       DefaultPurgeAge,
		StuckThreshold: DefaultStuckThreshold,
	}
}

// Run ticks every interval until ctx is canceled, running one cycle each
// time. A pass's error never stops the loop or the remaining passes.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes all five passes and returns their counters.
func (r *Reconciler) RunOnce(ctx context.Context) Metrics {
	var m Metrics
	r.pendingRetryPass(ctx, &m)
	r.failedRecoveryPass(ctx, &m)
	r.orphanCleanupPass(ctx, &m)
	r.ledgerTrimPass(ctx, &m)
	r.stuckBatchPass(ctx, &m)
	return m
}

// pendingRetryPass is §4.I pass 1: redrive open pending_batches rows below
// their retry ceiling.
func (r *Reconciler) pendingRetryPass(ctx context.Context, m *Metrics) {
	pending, err := r.rel.ListDuePendingBatches(ctx, r.BatchLimit)
	if err != nil {
		r.log.Error("reconciler: list due pending batches", "err", err)
		return
	}
	for _, pb := range pending {
		busKind, ok := bus.JobKindFor(pb.BatchType)
		if !ok {
			r.log.Error("reconciler: pending batch has unknown kind", "id", pb.ID, "kind", pb.BatchType)
			continue
		}
		msgID := bus.RecoveryMsgID(pb.ID, pb.BatchKey)
		outcome, pubErr := r.bus.PublishWithRetry(ctx, bus.WorkQueueSubject(busKind), msgID, pb.Payload, r.retryOpts)
		if outcome == bus.Published {
			if err := r.rel.MarkPendingBatchPublished(ctx, pb.ID); err != nil {
				r.log.Error("reconciler: mark pending batch published", "id", pb.ID, "err", err)
				continue
			}
			m.PendingRepublished++
			r.counters.pendingRetried.Inc()
			continue
		}
		if err := r.rel.IncrementPendingBatchRetry(ctx, pb.ID, errString(pubErr)); err != nil {
			r.log.Error("reconciler: increment pending batch retry", "id", pb.ID, "err", err)
			continue
		}
		if pb.RetryCount+1 >= pb.MaxRetries {
			m.PendingFailed++
			r.counters.pendingRetried.Inc()
		} else {
			m.PendingRetried++
			r.counters.pendingRetried.Inc()
		}
	}
}

// failedRecoveryPass is §4.I pass 2: for each active transform, redrive any
// batch the ledger marked failed whose input artifact is still present.
func (r *Reconciler) failedRecoveryPass(ctx context.Context, m *Metrics) {
	transforms, err := r.rel.ListEnabledTransformsPrivileged(ctx)
	if err != nil {
		r.log.Error("reconciler: list enabled transforms", "err", err)
		return
	}
	for _, t := range transforms {
		failed, err := r.rel.ListFailedBatchesForTransform(ctx, t.ID)
		if err != nil {
			r.log.Error("reconciler: list failed batches", "transform_id", t.ID, "err", err)
			continue
		}
		for _, pb := range failed {
			if r.recoverFailedBatch(ctx, t, pb) {
				m.FailedRecovered++
				r.counters.failedRecovered.Inc()
			} else {
				m.FailedPermanent++
			}
		}
	}
}

// recoverFailedBatch reconstructs the job payload for one failed ledger row
// and republishes it, returning true only if the artifact was found and the
// republish succeeded.
func (r *Reconciler) recoverFailedBatch(ctx context.Context, t domain.Transform, pb domain.ProcessedBatch) bool {
	objectKey, chunkCount, ok := r.locateArtifact(ctx, t, pb)
	if !ok {
		r.log.Warn("reconciler: failed batch artifact gone, leaving permanently failed",
			"transform_id", t.ID, "batch_key", pb.BatchKey)
		return false
	}

	busKind, ok := bus.JobKindFor(t.Kind)
	if !ok {
		return false
	}
	payload := bus.JobPayload{
		Kind:              busKind,
		TransformID:       t.ID,
		EmbeddedDatasetID: pb.EmbeddedDatasetID,
		BatchKey:          pb.BatchKey,
		Bucket:            r.bucket,
		ObjectKey:         objectKey,
		ChunkCount:        chunkCount,
	}
	raw, err := payload.Marshal()
	if err != nil {
		r.log.Error("reconciler: marshal recovered payload", "err", err)
		return false
	}
	msgID := bus.FailedRecoveryMsgID(t.ID, pb.BatchKey)
	if _, err := r.bus.PublishWithRetry(ctx, bus.WorkQueueSubject(busKind), msgID, raw, r.retryOpts); err != nil {
		r.log.Warn("reconciler: republish failed batch failed", "transform_id", t.ID, "batch_key", pb.BatchKey, "err", err)
		return false
	}
	return true
}

// locateArtifact reconstructs a failed batch's input object key per kind
// and confirms it still exists, returning its chunk count where it can be
// recovered cheaply (kind-2 counts the artifact's records; kind-1 reports 1,
// one source file per batch as the scanner dispatches it; kind-3 reports 0).
func (r *Reconciler) locateArtifact(ctx context.Context, t domain.Transform, pb domain.ProcessedBatch) (objectKey string, chunkCount int, ok bool) {
	switch t.Kind {
	case domain.KindDatasetToVectorStorage:
		key := transform.BatchObjectKey(pb.EmbeddedDatasetID, pb.BatchKey)
		raw, err := r.obj.GetWithSizeCheck(ctx, key)
		if err != nil {
			return "", 0, false
		}
		records, err := transform.UnmarshalBatchArtifact(raw)
		if err != nil {
			return key, 0, true
		}
		return key, len(records), true
	case domain.KindCollectionToDataset:
		key := transform.CollectionObjectKey(t.SourceResourceID, pb.BatchKey)
		if _, err := r.obj.GetWithSizeCheck(ctx, key); err != nil {
			return "", 0, false
		}
		return key, 1, true
	case domain.KindVisualization:
		// A visualization run has no pre-existing input artifact to verify
		// (its job payload's object key is a placeholder, §4.G); recovery
		// just means "try the run again".
		return strings.TrimPrefix(pb.BatchKey, "viz-"), 0, true
	default:
		return "", 0, false
	}
}

// orphanCleanupPass is §4.I pass 3: pending rows old enough that their
// artifact is assumed abandoned get their artifact deleted and the row
// marked failed.
func (r *Reconciler) orphanCleanupPass(ctx context.Context, m *Metrics) {
	orphans, err := r.rel.ListOrphanedPendingBatches(ctx, r.OrphanAge)
	if err != nil {
		r.log.Error("reconciler: list orphaned pending batches", "err", err)
		return
	}
	for _, pb := range orphans {
		if payload, err := bus.UnmarshalJobPayload(pb.Payload); err == nil && payload.ObjectKey != "" {
			if err := r.obj.DeleteBatch(ctx, []string{payload.ObjectKey}); err != nil {
				r.log.Warn("reconciler: delete orphan artifact", "id", pb.ID, "err", err)
			}
		}
		if err := r.rel.MarkPendingBatchFailed(ctx, pb.ID); err != nil {
			r.log.Error("reconciler: mark orphan failed", "id", pb.ID, "err", err)
			continue
		}
		m.OrphansCleaned++
		r.counters.orphansCleaned.Inc()
	}
}

// ledgerTrimPass is §4.I pass 4: purge settled pending_batches rows old
// enough that nothing will ever query them again.
func (r *Reconciler) ledgerTrimPass(ctx context.Context, m *Metrics) {
	n, err := r.rel.PurgeOldPendingBatches(ctx, time.Now().Add(-r.PurgeAge))
	if err != nil {
		r.log.Error("reconciler: purge old pending batches", "err", err)
		return
	}
	m.LedgerTrimmed = n
	r.counters.ledgerTrimmed.Add(float64(n))
}

// stuckBatchPass is §4.I pass 5: log, never auto-reset, batches that have
// sat in processing longer than StuckThreshold.
func (r *Reconciler) stuckBatchPass(ctx context.Context, m *Metrics) {
	stuck, err := r.rel.ListStuckProcessingBatches(ctx, r.StuckThreshold)
	if err != nil {
		r.log.Error("reconciler: list stuck processing batches", "err", err)
		return
	}
	for _, pb := range stuck {
		r.log.Warn("reconciler: batch stuck in processing", "key", pb.Key(), "created_at", pb.CreatedAt)
	}
	m.StuckDetected = len(stuck)
	r.counters.stuckDetected.Add(float64(len(stuck)))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
