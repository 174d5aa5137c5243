package inference

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// DefaultQueueTimeout lies inside the 5-30s default range.
const DefaultQueueTimeout = 10 * time.Second

// Admission is the sole mechanism bounding concurrent model invocations: a
// counting semaphore sized to the configured max concurrent requests.
type Admission struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewAdmission builds an Admission allowing maxConcurrent in flight at
// once, each acquire bounded by timeout.
func NewAdmission(maxConcurrent int64, timeout time.Duration) *Admission {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	return &Admission{sem: semaphore.NewWeighted(maxConcurrent), timeout: timeout}
}

// Acquire blocks for a permit up to the configured timeout, returning a
// release func on success. A timed-out acquire is reported as an Overload
// error so callers can map it to a 503 without inspecting context errors.
func (a *Admission) Acquire(ctx context.Context) (release func(), err error) {
	acqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.sem.Acquire(acqCtx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewError(domain.KindOverload, "inference.Admission.Acquire", err)
		}
		return nil, err
	}
	return func() { a.sem.Release(1) }, nil
}
