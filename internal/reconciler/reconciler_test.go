package reconciler

import (
	"errors"
	"testing"

	"github.com/fishysoftware/semantic-pipeline/internal/metrics"
)

func TestErrString(t *testing.T) {
	if got := errString(nil); got != "" {
		t.Fatalf("expected empty string for nil error, got %q", got)
	}
	if got := errString(errors.New("boom")); got != "boom" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestNewCountersRegistersFivePasses(t *testing.T) {
	reg := metrics.New()
	c := newCounters(reg)
	c.pendingRetried.Inc()
	c.failedRecovered.Inc()
	c.orphansCleaned.Inc()
	c.ledgerTrimmed.Add(3)
	c.stuckDetected.Inc()
	// Registering the same names twice would panic; building a second
	// distinct registry must not collide with the first's collectors.
	reg2 := metrics.New()
	newCounters(reg2)
}
