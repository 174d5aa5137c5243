// Package bus is the durable job bus (§4.D): JetStream work-queue streams
// per job kind, a status stream, DLQs, a scanner-trigger stream with
// coalescing semantics, and the retry/backpressure helpers the scanner,
// listener and reconciliation loop share.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// Kind mirrors domain.Kind for the subject/stream namespacing this package
// owns; kept distinct so bus wiring never depends on domain validation.
type Kind string

const (
	KindCollectionTransform Kind = "collection-transform"
	KindDatasetTransform    Kind = "dataset-transform"
	KindVisualization       Kind = "visualization-transform"
)

// Subject layout, bit-exact per spec.
func WorkQueueSubject(k Kind) string        { return "workers." + string(k) }
func StatusSubject(kind string) string      { return "transforms." + kind + ".status" }
func ScanTriggerSubject(kind string) string { return "scan.trigger." + kind }
func DLQSubject(kind string) string         { return "dlq." + kind + "-transforms" }

// StatusPublishSubject is the per-message subject a worker publishes a
// result to: unique per (transform, batch) so the TRANSFORM_STATUS stream
// accumulates rather than overwrites.
func StatusPublishSubject(kind, transformID, batchKey string) string {
	return fmt.Sprintf("%s.%s.%s", StatusSubject(kind), transformID, batchKey)
}

// StatusFilterSubject is the wildcard a listener's durable consumer filters
// on, one instance per kind (§4.H).
func StatusFilterSubject(kind string) string {
	return StatusSubject(kind) + ".>"
}

// StatusBroadcastSubject builds the non-durable SSE status subject, kept
// under its own sse. prefix so it is never captured by the work-queue
// streams (§4.L).
func StatusBroadcastSubject(kind, owner, resourceID, transformID string) string {
	return fmt.Sprintf("sse.transforms.%s.status.%s.%s.%s", kind, owner, resourceID, transformID)
}

const (
	AckWaitDefault        = 10 * time.Minute
	AckWaitVisualization  = 30 * time.Minute
	MaxAckPendingDefault  = 100
	MaxAckPendingSmall    = 10
	MaxDeliver            = 5
	DedupWindow           = 60 * time.Minute
	DLQRetention          = 30 * 24 * time.Hour
)

// DispatchMsgID builds the message id for a scanner-dispatched batch.
func DispatchMsgID(transformID, batchKey string) string {
	return fmt.Sprintf("dt-%s-%s", transformID, batchKey)
}

// RecoveryMsgID builds the message id for a reconciliation redrive of a
// pending_batches row.
func RecoveryMsgID(pendingID, batchKey string) string {
	return fmt.Sprintf("dt-recovery-%s-%s", pendingID, batchKey)
}

// FailedRecoveryMsgID builds the message id for reconciliation's
// failed-batch recovery path.
func FailedRecoveryMsgID(transformID, batchKey string) string {
	return fmt.Sprintf("dt-failed-recovery-%s-%s", transformID, batchKey)
}

// Outcome is PublishWithRetry's result.
type Outcome string

const (
	Published Outcome = "published"
	Failed    Outcome = "failed"
)

// Bus owns the NATS connection and JetStream context.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials addr with unbounded exponential-backoff reconnection
// (1,2,4,...,60s cap) and builds the JetStream context.
func Connect(addr string) (*Bus, error) {
	nc, err := nats.Connect(addr,
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			wait := time.Second
			for i := 0; i < attempts; i++ {
				wait *= 2
				if wait >= 60*time.Second {
					return 60 * time.Second
				}
			}
			return wait
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}
	return &Bus{nc: nc, js: js}, nil
}

// NewWithJetStream builds a Bus around an already-constructed JetStream
// context (or a fake satisfying the interface), bypassing Connect. Used by
// tests.
func NewWithJetStream(js jetstream.JetStream) *Bus {
	return &Bus{js: js}
}

// Close drains the underlying connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// Conn exposes the underlying NATS connection for callers that need
// natsutil's typed, trace-propagating helpers directly (the status bus's
// fire-and-forget SSE broadcasts).
func (b *Bus) Conn() *nats.Conn { return b.nc }

var jobKinds = []Kind{KindCollectionTransform, KindDatasetTransform, KindVisualization}

// domainKindToBusKind is the one place the transform-kind and job-queue-kind
// namespaces are bridged; the scanner and the reconciliation loop both need
// it (dispatch and redrive respectively), so it lives here rather than
// being duplicated in each caller.
var domainKindToBusKind = map[domain.Kind]Kind{
	domain.KindCollectionToDataset:    KindCollectionTransform,
	domain.KindDatasetToVectorStorage: KindDatasetTransform,
	domain.KindVisualization:          KindVisualization,
}

// JobKindFor maps a transform's domain kind to its job-queue kind.
func JobKindFor(k domain.Kind) (Kind, bool) {
	bk, ok := domainKindToBusKind[k]
	return bk, ok
}

// DomainKindFor is JobKindFor's inverse, used where only the job-queue kind
// is at hand (e.g. building a domain.PendingBatch row from a publish
// failure).
func DomainKindFor(k Kind) domain.Kind {
	for dk, bk := range domainKindToBusKind {
		if bk == k {
			return dk
		}
	}
	return ""
}

// EnsureStreams idempotently creates the three work-queue streams, the
// status stream, the scanner-trigger stream, and the per-kind DLQ streams.
func (b *Bus) EnsureStreams(ctx context.Context) error {
	for _, k := range jobKinds {
		_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       "WORKERS_" + string(k),
			Subjects:   []string{WorkQueueSubject(k)},
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: DedupWindow,
			MaxAge:     0,
		})
		if err != nil {
			return fmt.Errorf("bus: ensure work-queue stream %s: %w", k, err)
		}

		_, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     "DLQ_" + string(k),
			Subjects: []string{DLQSubject(string(k))},
			MaxAge:   DLQRetention,
		})
		if err != nil {
			return fmt.Errorf("bus: ensure dlq stream %s: %w", k, err)
		}
	}

	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     "TRANSFORM_STATUS",
		Subjects: []string{"transforms.*.status.>"},
	})
	if err != nil {
		return fmt.Errorf("bus: ensure status stream: %w", err)
	}

	_, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:                 "SCAN_TRIGGER",
		Subjects:             []string{"scan.trigger.*"},
		MaxMsgsPerSubject:    1,
		DiscardNewPerSubject: true,
	})
	if err != nil {
		return fmt.Errorf("bus: ensure scan-trigger stream: %w", err)
	}
	return nil
}

// natsHeaderCarrier adapts nats.Header for OTel trace propagation, the
// teacher's natsutil header-carrier pattern lifted to a jetstream.Msg.
type natsHeaderCarrier nats.Header

func (c natsHeaderCarrier) Get(key string) string {
	if c == nil {
		return ""
	}
	vals := nats.Header(c)[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
func (c natsHeaderCarrier) Set(key, val string) { nats.Header(c).Set(key, val) }
func (c natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// PublishWithRetry publishes payload to subject with msgID set as the
// Nats-Msg-Id dedup header, retrying transport failures with
// pkg/fn.Retry. It returns Published only after a broker ack.
func (b *Bus) PublishWithRetry(ctx context.Context, subject, msgID string, payload []byte, opts fn.RetryOpts) (Outcome, error) {
	result := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[struct{}] {
		msg := nats.NewMsg(subject)
		msg.Data = payload
		msg.Header.Set(nats.MsgIdHdr, msgID)
		otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier(msg.Header))

		_, err := b.js.PublishMsg(ctx, msg)
		if err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	if _, err := result.Unwrap(); err != nil {
		return Failed, domain.NewError(domain.KindTransient, "bus.PublishWithRetry", err)
	}
	return Published, nil
}

// QueueDepth reports the number of messages held in the stream named
// streamName, consulted by the scanner's backpressure gate.
func (b *Bus) QueueDepth(ctx context.Context, streamName string) (int64, error) {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "bus.QueueDepth", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "bus.QueueDepth", err)
	}
	return int64(info.State.Msgs), nil
}
