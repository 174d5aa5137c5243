// Package breaker implements the three-state circuit breaker wrapping
// external-service calls: vector store, object store, and inference.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Opts configures a breaker instance, one per external service.
type Opts struct {
	// FailureThreshold is how many failures (within FailureWindow) trip
	// the breaker from Closed to Open.
	FailureThreshold int
	// SuccessThreshold is how many consecutive successes in HalfOpen are
	// required to close the breaker again.
	SuccessThreshold int
	// Timeout is how long the breaker stays Open before probing.
	Timeout time.Duration
	// FailureWindow resets the failure count after this much quiescence
	// with no failures, so sparse, unrelated failures don't accumulate
	// toward tripping the breaker.
	FailureWindow time.Duration
}

var DefaultOpts = Opts{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
	FailureWindow:    60 * time.Second,
}

// Metrics are the lock-free atomic counters §4.K requires.
type Metrics struct {
	Requests    atomic.Int64
	Failures    atomic.Int64
	Rejections  atomic.Int64
	Transitions atomic.Int64
}

// Breaker implements the Closed/Open/HalfOpen state machine. Every state
// access, reads through State included, takes the write lock, because
// resolving an elapsed Open timeout can move the breaker to HalfOpen; the
// read lock is not used. Counters are lock-free atomics.
type Breaker struct {
	opts Opts
	now  func() time.Time // for testing

	mu            sync.RWMutex
	state         State
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	halfOpenOK    int

	Metrics Metrics
}

// New creates a breaker with the given options, filling in zero fields
// from DefaultOpts.
func New(opts Opts) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultOpts.FailureThreshold
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = DefaultOpts.SuccessThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOpts.Timeout
	}
	if opts.FailureWindow <= 0 {
		opts.FailureWindow = DefaultOpts.FailureWindow
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state, resolving an elapsed Open timeout into
// HalfOpen as a side effect.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked must be called with mu held for writing.
func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenOK = 0
		b.Metrics.Transitions.Add(1)
	}
	if b.state == StateClosed && b.failures > 0 && b.now().Sub(b.lastFailureAt) >= b.opts.FailureWindow {
		b.failures = 0
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	st := b.currentStateLocked()
	if st == StateOpen {
		b.mu.Unlock()
		b.Metrics.Rejections.Add(1)
		return ErrCircuitOpen
	}
	b.mu.Unlock()
	b.Metrics.Requests.Add(1)
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailureAt = b.now()
	b.Metrics.Failures.Add(1)
	switch b.state {
	case StateHalfOpen:
		b.openBreakerLocked()
	case StateClosed:
		if b.failures >= b.opts.FailureThreshold {
			b.openBreakerLocked()
		}
	}
}

func (b *Breaker) openBreakerLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.halfOpenOK = 0
	b.Metrics.Transitions.Add(1)
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.opts.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenOK = 0
			b.Metrics.Transitions.Add(1)
		}
	}
}

// Call executes f through the breaker, rejecting immediately if Open.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// CallResult is the fn.Result-returning variant used inside pipeline stages.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if err := b.admit(); err != nil {
		return fn.Err[T](err)
	}
	result := f(ctx)
	if result.IsErr() {
		b.recordFailure()
		return result
	}
	b.recordSuccess()
	return result
}

// Stage wraps an fn.Stage with circuit breaker protection.
func Stage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
