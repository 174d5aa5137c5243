package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/breaker"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestFacadeEmbedRejectsUnderGPUPressure(t *testing.T) {
	gpu := NewGPUMonitor(fakeSampler{vramPct: 99}, 95, nil)
	gpu.sampleOnce(context.Background())

	f := New(DefaultConfig, func(ctx context.Context, modelID string) (EmbedClient, error) {
		return fakeClient{id: modelID}, nil
	}, gpu, nil, nil)

	_, err := f.Embed(context.Background(), "model-a", []string{"x"})
	if !errors.Is(err, domain.ErrOverload) {
		t.Fatalf("expected overload error under gpu pressure, got %v", err)
	}
}

func TestFacadeEmbedSucceeds(t *testing.T) {
	f := New(DefaultConfig, func(ctx context.Context, modelID string) (EmbedClient, error) {
		return fakeClient{id: modelID}, nil
	}, nil, nil, nil)

	out, err := f.Embed(context.Background(), "model-a", []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(out))
	}
}

type failingClient struct{ err error }

func (f failingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, f.err
}

func TestFacadeEmbedTripsBreaker(t *testing.T) {
	boom := errors.New("boom")
	br := breaker.New(breaker.Opts{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, FailureWindow: time.Hour})
	f := New(DefaultConfig, func(ctx context.Context, modelID string) (EmbedClient, error) {
		return failingClient{err: boom}, nil
	}, nil, br, nil)

	if _, err := f.Embed(context.Background(), "model-a", []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom on first call, got %v", err)
	}
	if _, err := f.Embed(context.Background(), "model-a", []string{"x"}); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Fatalf("expected circuit open on second call, got %v", err)
	}
}

func TestFacadeEmbedRejectsOnOpenCircuitBeforeConsumingPermit(t *testing.T) {
	boom := errors.New("boom")
	br := breaker.New(breaker.Opts{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, FailureWindow: time.Hour})
	cfg := DefaultConfig
	cfg.MaxConcurrentRequests = 1
	f := New(cfg, func(ctx context.Context, modelID string) (EmbedClient, error) {
		return failingClient{err: boom}, nil
	}, nil, br, nil)

	// Trip the breaker.
	if _, err := f.Embed(context.Background(), "model-a", []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("expected boom on first call, got %v", err)
	}

	// With a single permit and the breaker open, every subsequent call must
	// reject on the breaker check rather than blocking on the semaphore.
	for i := 0; i < 3; i++ {
		if _, err := f.Embed(context.Background(), "model-a", []string{"x"}); !errors.Is(err, breaker.ErrCircuitOpen) {
			t.Fatalf("call %d: expected circuit open, got %v", i, err)
		}
	}
}

func TestFacadeProbeUsesBreakerAndProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
	}))
	defer srv.Close()

	f := New(DefaultConfig, nil, nil, nil, nil)
	cfg := domain.EmbedderConfig{Endpoint: srv.URL, Model: "test-model"}
	if err := f.Probe(context.Background(), cfg, "secret"); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
}
