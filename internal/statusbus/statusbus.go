// Package statusbus is the transform status bus (§4.L): a fire-and-forget
// broadcast distinct from the durable job bus, so a down broker degrades
// the UI to stale data rather than stalling the pipeline.
package statusbus

import (
	"context"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/pkg/natsutil"
)

// Update is the small JSON record published on the sse.transforms.> subject
// family.
type Update struct {
	Kind        string    `json:"kind"`
	TransformID string    `json:"transform_id"`
	ResourceID  string    `json:"resource_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher wraps the bus for the SSE broadcast subject family.
type Publisher struct {
	bus *bus.Bus
}

// New builds a Publisher around an already-connected Bus.
func New(b *bus.Bus) *Publisher {
	return &Publisher{bus: b}
}

// Publish broadcasts one status update. Errors are non-fatal by contract:
// callers log and move on rather than retry, since this is best-effort.
func (p *Publisher) Publish(ctx context.Context, kind, owner, resourceID, transformID, status, errMsg string) error {
	u := Update{
		Kind:        kind,
		TransformID: transformID,
		ResourceID:  resourceID,
		Status:      status,
		Error:       errMsg,
		Timestamp:   time.Now().UTC(),
	}
	subject := bus.StatusBroadcastSubject(kind, owner, resourceID, transformID)
	return natsutil.Publish(ctx, p.bus.Conn(), subject, u)
}
