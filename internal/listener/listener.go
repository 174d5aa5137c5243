// Package listener is the result listener (§4.H), the strictest component
// in the pipeline: a durable JetStream consumer that applies worker results
// to the ledger and transform stats under a single transaction, guarded by
// a previous-status read so redelivery can never double-count. One
// instance runs per job kind (dataset, collection, visualization), each on
// its own consumer filtered to that kind's status subject.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/statusbus"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
)

// AckWait is shorter than the work-queue's own ack_wait: the listener reacts
// to a worker's already-computed result, it doesn't wait out an inference
// call.
const AckWait = 120 * time.Second

// NakDelay is the redelivery backoff for every transient failure path
// (§4.H steps 2 and 5).
const NakDelay = 30 * time.Second

// Listener applies one job kind's status results.
type Listener struct {
	rel    *relational.Gateway
	obj    *objectstore.Gateway
	status *statusbus.Publisher
	kind   string
	log    *slog.Logger
}

// New builds a Listener for one job kind ("dataset", "collection", or
// "visualization" — the subject segment, not domain.Kind's spelling).
func New(rel *relational.Gateway, obj *objectstore.Gateway, status *statusbus.Publisher, kind string, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{rel: rel, obj: obj, status: status, kind: kind, log: log}
}

// Consumer builds this listener's durable consumer on the status stream.
func (l *Listener) Consumer(ctx context.Context, b *bus.Bus) (*bus.Consumer, error) {
	return bus.NewConsumer(ctx, b, "TRANSFORM_STATUS", bus.ConsumerOpts{
		Durable:       "listener-" + l.kind,
		FilterSubject: bus.StatusFilterSubject(l.kind),
		AckWait:       AckWait,
		MaxAckPending: bus.MaxAckPendingDefault,
		MaxDeliver:    bus.MaxDeliver,
	})
}

// Run drives c until ctx is canceled.
func (l *Listener) Run(ctx context.Context, c *bus.Consumer) error {
	return c.RunManual(ctx, l.Handle)
}

// Handle implements the six-step algorithm. It owns msg's ack/nak outcome
// directly since different failures need different redelivery behavior.
func (l *Listener) Handle(ctx context.Context, msg jetstream.Msg) {
	// Step 1: malformed payloads are acked immediately, they will never
	// succeed no matter how many times they're redelivered.
	result, err := bus.UnmarshalResultPayload(msg.Data())
	if err != nil {
		l.log.Warn("listener: malformed status payload, acking", "kind", l.kind, "err", err)
		_ = msg.Ack()
		return
	}

	// Step 2: resolve the scope the result belongs to. A NotFound here
	// means the owning row was cascade-deleted out from under the job.
	owner, resourceID, err := l.resolveScope(ctx, result)
	if err != nil {
		if isNotFound(err) {
			if delErr := l.deleteArtifact(ctx, result); delErr != nil {
				l.log.Warn("listener: best-effort artifact delete on obsolete job", "err", delErr)
			}
			_ = msg.Ack()
			return
		}
		_ = msg.NakWithDelay(NakDelay)
		return
	}

	// Step 3: previous-status idempotency guard.
	key := ledgerKey(result)
	prev, err := l.rel.GetProcessedBatch(ctx, key)
	if err != nil && !isNotFound(err) {
		_ = msg.NakWithDelay(NakDelay)
		return
	}
	if prev.Status.TerminalSuccess() {
		_ = msg.Ack()
		return
	}

	effStatus := effectiveStatus(l.kind, result.Status, result.ChunksEmbedded)

	// Steps 4-5: one transaction for the ledger row, the stats delta, and
	// (for kind-3) the visualization row; commit, then ack only on success.
	commitErr := l.rel.WithTx(ctx, func(tx pgx.Tx) error {
		if err := relational.ApplyProcessedBatchResult(ctx, tx, key, effStatus); err != nil {
			if errors.Is(err, domain.ErrInvalidStatusTransition) {
				// Already resolved by an earlier or concurrent delivery.
				return nil
			}
			return err
		}
		if err := l.applyStatsDelta(ctx, tx, effStatus, result); err != nil {
			return err
		}
		if l.kind == "visualization" {
			return l.applyVisualization(ctx, tx, result)
		}
		return nil
	})
	if commitErr != nil {
		l.log.Warn("listener: apply result failed, nak", "kind", l.kind, "batch_key", result.BatchKey, "err", commitErr)
		_ = msg.NakWithDelay(NakDelay)
		return
	}
	_ = msg.Ack()

	// Step 6: best-effort, after commit, never blocks the ack already sent.
	if effStatus.TerminalSuccess() {
		if err := l.deleteArtifact(ctx, result); err != nil {
			l.log.Warn("listener: best-effort artifact delete after success", "err", err)
		}
	}
	if err := l.status.Publish(ctx, l.kind, owner, resourceID, result.TransformID, string(effStatus), result.ErrorMessage); err != nil {
		l.log.Warn("listener: status-bus publish failed", "err", err)
	}
}

// applyStatsDelta advances transform_stats per §4.H step 4c. "processing"
// results never reach here: the scanner already inserted the ledger row in
// BatchProcessing and bumped the counters at dispatch time, so a
// processing->processing redelivery is rejected upstream by
// ApplyProcessedBatchResult's transition check before this is called.
// effStatus is result.Status with a zero-chunk success already coerced to
// BatchFailed by the caller.
func (l *Listener) applyStatsDelta(ctx context.Context, tx pgx.Tx, effStatus domain.BatchStatus, result bus.ResultPayload) error {
	switch {
	case effStatus.TerminalSuccess():
		return relational.ApplyCompletion(ctx, tx, result.TransformID, true, result.ChunksEmbedded)
	case effStatus == domain.BatchFailed:
		return relational.ApplyCompletion(ctx, tx, result.TransformID, false, 0)
	default:
		return nil
	}
}

func (l *Listener) applyVisualization(ctx context.Context, tx pgx.Tx, result bus.ResultPayload) error {
	status := domain.VisualizationProcessing
	switch {
	case result.Status.TerminalSuccess():
		status = domain.VisualizationCompleted
	case result.Status == domain.BatchFailed:
		status = domain.VisualizationFailed
	}
	return relational.ApplyVisualizationResult(ctx, tx, result.VisualizationID, status,
		result.ObjectKey, result.PointCount, result.ClusterCount, result.ErrorMessage)
}

// resolveScope fetches the row a result belongs to and returns the owner
// and resource id the status-bus broadcast needs. Kind-2 results scope to
// an embedded dataset; kind-1/3 scope to the transform itself.
func (l *Listener) resolveScope(ctx context.Context, result bus.ResultPayload) (owner, resourceID string, err error) {
	t, err := l.rel.GetTransformPrivileged(ctx, result.TransformID)
	if err != nil {
		return "", "", err
	}
	if l.kind == "dataset" && result.EmbeddedDatasetID != "" {
		if _, err := l.rel.GetEmbeddedDataset(ctx, result.EmbeddedDatasetID); err != nil {
			return "", "", err
		}
	}
	return t.Owner.ID, t.SourceResourceID, nil
}

func (l *Listener) deleteArtifact(ctx context.Context, result bus.ResultPayload) error {
	if result.ObjectKey == "" {
		return nil
	}
	return l.obj.DeleteBatch(ctx, []string{result.ObjectKey})
}

// effectiveStatus coerces a worker-reported "success" with zero chunks into
// a failure (§9's open question, resolved): kind-3 (visualization) has no
// notion of chunks and is exempt.
func effectiveStatus(kind string, status domain.BatchStatus, chunksEmbedded int) domain.BatchStatus {
	if kind != "visualization" && status.TerminalSuccess() {
		if err := domain.ValidateChunks(chunksEmbedded); err != nil {
			return domain.BatchFailed
		}
	}
	return status
}

func ledgerKey(result bus.ResultPayload) string {
	return domain.ProcessedBatch{
		TransformID:       result.TransformID,
		EmbeddedDatasetID: result.EmbeddedDatasetID,
		BatchKey:          result.BatchKey,
	}.Key()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
