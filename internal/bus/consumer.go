package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerOpts configures a durable consumer's redelivery and backpressure
// knobs. Visualization work uses a longer ack wait and a smaller in-flight
// cap than the other two job kinds.
type ConsumerOpts struct {
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxAckPending int
	MaxDeliver    int
}

// Handler processes one message; returning an error naks it for redelivery,
// returning nil acks it.
type Handler func(ctx context.Context, msg jetstream.Msg) error

// Consumer wraps a durable JetStream pull consumer and its message loop.
type Consumer struct {
	consumer jetstream.Consumer
}

// NewConsumer creates or attaches to a durable consumer on streamName.
func NewConsumer(ctx context.Context, b *Bus, streamName string, opts ConsumerOpts) (*Consumer, error) {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("bus: consumer stream %s: %w", streamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       opts.Durable,
		FilterSubject: opts.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.AckWait,
		MaxAckPending: opts.MaxAckPending,
		MaxDeliver:    opts.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create consumer %s: %w", opts.Durable, err)
	}
	return &Consumer{consumer: cons}, nil
}

// Run pulls messages one at a time and dispatches them to handle until ctx
// is canceled. JetStream stops redelivering a message once it has been
// delivered MaxDeliver times, so handle only sees messages still within
// budget; nothing in this package copies an exhausted message onto the DLQ
// stream.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	iter, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("bus: messages iterator: %w", err)
	}
	defer iter.Stop()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus: next message: %w", err)
		}
		if err := handle(ctx, msg); err != nil {
			_ = msg.Nak()
			continue
		}
		_ = msg.Ack()
	}
}

// ManualHandler processes one message with full control over its ack/nak
// outcome, used where different failure classes need different redelivery
// delays (the listener's §4.H step semantics: ack on malformed/obsolete,
// nak-with-delay on transient, immediate nak not used at all here).
type ManualHandler func(ctx context.Context, msg jetstream.Msg)

// RunManual pulls messages and hands each to handle, which must ack or nak
// it itself; Run's uniform error->nak/nil->ack mapping can't express the
// listener's per-step rules.
func (c *Consumer) RunManual(ctx context.Context, handle ManualHandler) error {
	iter, err := c.consumer.Messages()
	if err != nil {
		return fmt.Errorf("bus: messages iterator: %w", err)
	}
	defer iter.Stop()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus: next message: %w", err)
		}
		handle(ctx, msg)
	}
}
