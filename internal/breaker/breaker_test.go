package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultOpts)
	if b.State() != StateClosed {
		t.Fatalf("expected initial state closed, got %s", b.State())
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(Opts{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, FailureWindow: time.Minute})
	failing := func(ctx context.Context) error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), failing); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if err := b.Call(context.Background(), failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestBreakerHalfOpenRequiresSuccessThreshold(t *testing.T) {
	now := time.Now()
	b := New(Opts{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, FailureWindow: time.Minute})
	b.now = func() time.Time { return now }

	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", b.State())
	}

	succeed := func(ctx context.Context) error { return nil }
	if err := b.Call(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still half-open after one success (threshold 2), got %s", b.State())
	}
	if err := b.Call(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold met, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New(Opts{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, FailureWindow: time.Minute})
	b.now = func() time.Time { return now }

	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	_ = b.Call(context.Background(), failing)
	if b.State() != StateOpen {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %s", b.State())
	}
}

func TestBreakerFailureWindowResetsCount(t *testing.T) {
	now := time.Now()
	b := New(Opts{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, FailureWindow: 5 * time.Second})
	b.now = func() time.Time { return now }

	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)

	now = now.Add(10 * time.Second) // past the failure window
	_ = b.Call(context.Background(), failing)
	if b.State() != StateClosed {
		t.Fatalf("expected failure count to reset after the quiet window, got %s", b.State())
	}
}

func TestBreakerMetrics(t *testing.T) {
	b := New(Opts{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute, FailureWindow: time.Minute})
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing) // rejected, breaker now open

	if got := b.Metrics.Requests.Load(); got != 1 {
		t.Errorf("expected 1 admitted request, got %d", got)
	}
	if got := b.Metrics.Failures.Load(); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}
	if got := b.Metrics.Rejections.Load(); got != 1 {
		t.Errorf("expected 1 rejection, got %d", got)
	}
	if got := b.Metrics.Transitions.Load(); got != 1 {
		t.Errorf("expected 1 transition (closed->open), got %d", got)
	}
}
