// Package audit is the audit-trail seam: transform CRUD and deletion paths
// call Auditor.Record so every mutation leaves a trace, but the concrete
// persistence (a Postgres audit_events table) is an external collaborator
// out of this module's scope, same as the embedder-encryption seam in
// internal/transform.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/pkg/natsutil"
)

// EventsSubject is where audited actions are published for an external
// consumer to persist; fire-and-forget, same contract as the status bus.
const EventsSubject = "audit.events"

// errNoConn stands in for a publish failure when the BusAuditor has no
// connection to publish on.
var errNoConn = errors.New("audit: no bus connection")

// Outcome classifies what happened to the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is the wire record published to EventsSubject.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	ActorID    string    `json:"actor_id"`
	ResourceID string    `json:"resource_id,omitempty"`
	Details    string    `json:"details,omitempty"`
}

// Auditor is the seam transform CRUD and deletion paths call through.
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceID string) error
}

// LoggingAuditor writes each event as a structured log line and nothing
// else; the default when no bus is configured.
type LoggingAuditor struct {
	log *slog.Logger
}

// NewLoggingAuditor builds a LoggingAuditor.
func NewLoggingAuditor(log *slog.Logger) *LoggingAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingAuditor{log: log}
}

// Record logs the event at Info and never returns an error: logging audit
// trail is best-effort by design, same as the status bus.
func (a *LoggingAuditor) Record(ctx context.Context, actorID, action, resourceID string) error {
	a.log.Info("audit", "actor_id", actorID, "action", action, "resource_id", resourceID)
	return nil
}

// BusAuditor publishes each event onto EventsSubject for an external
// persistence worker to consume, falling back to fallback (typically a
// LoggingAuditor) when the publish itself fails.
type BusAuditor struct {
	bus      *bus.Bus
	fallback Auditor
	log      *slog.Logger
}

// NewBusAuditor builds a BusAuditor. fallback may be nil, in which case a
// publish failure is only logged.
func NewBusAuditor(b *bus.Bus, fallback Auditor, log *slog.Logger) *BusAuditor {
	if log == nil {
		log = slog.Default()
	}
	return &BusAuditor{bus: b, fallback: fallback, log: log}
}

// Record publishes the event; a publish failure falls back to the
// configured fallback Auditor rather than surfacing an error to the
// caller, since an audit-trail gap must never block the action it audits.
func (a *BusAuditor) Record(ctx context.Context, actorID, action, resourceID string) error {
	ev := Event{
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Outcome:    OutcomeSuccess,
		ActorID:    actorID,
		ResourceID: resourceID,
	}
	var err error
	if a.bus == nil || a.bus.Conn() == nil {
		err = errNoConn
	} else {
		err = natsutil.Publish(ctx, a.bus.Conn(), EventsSubject, ev)
	}
	if err != nil {
		a.log.Warn("audit: publish failed", "err", err)
		if a.fallback != nil {
			return a.fallback.Record(ctx, actorID, action, resourceID)
		}
	}
	return nil
}
