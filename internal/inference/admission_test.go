package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestAdmissionAcquireRelease(t *testing.T) {
	a := NewAdmission(1, time.Second)
	release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()

	release2, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on reacquire: %v", err)
	}
	release2()
}

func TestAdmissionTimesOutUnderOverload(t *testing.T) {
	a := NewAdmission(1, 20*time.Millisecond)
	release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	_, err = a.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected an error when the single permit is held")
	}
	if !errors.Is(err, domain.ErrOverload) {
		t.Fatalf("expected an overload error, got %v", err)
	}
}
