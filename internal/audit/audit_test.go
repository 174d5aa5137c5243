package audit

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggingAuditorRecordsFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a := NewLoggingAuditor(log)

	if err := a.Record(context.Background(), "user-1", "transform.delete", "t-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"user-1", "transform.delete", "t-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log to contain %q, got: %s", want, out)
		}
	}
}

func TestBusAuditorFallsBackOnNilConn(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	fallback := NewLoggingAuditor(log)
	a := NewBusAuditor(nil, fallback, log)

	// With no bus there is no connection to publish on, so Record must take
	// the fallback path instead of publishing.
	if err := a.Record(context.Background(), "user-1", "transform.create", "t-2"); err != nil {
		t.Fatalf("unexpected error from fallback: %v", err)
	}
	if !strings.Contains(buf.String(), "transform.create") {
		t.Fatalf("expected fallback log entry, got: %s", buf.String())
	}
}
