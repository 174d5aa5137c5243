package inference

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeClient struct{ id string }

func (f fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func TestModelCacheGetLoadsOnce(t *testing.T) {
	var loads atomic.Int64
	cache := NewModelCache(func(ctx context.Context, modelID string) (EmbedClient, error) {
		loads.Add(1)
		return fakeClient{id: modelID}, nil
	}, nil)

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background(), "model-a"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
}

func TestModelCacheGetCachesError(t *testing.T) {
	boom := errors.New("boom")
	var loads atomic.Int64
	cache := NewModelCache(func(ctx context.Context, modelID string) (EmbedClient, error) {
		loads.Add(1)
		return nil, boom
	}, nil)

	for i := 0; i < 2; i++ {
		if _, err := cache.Get(context.Background(), "model-a"); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected the failing load to be cached too, got %d calls", got)
	}
}

func TestModelCacheEvictForcesReload(t *testing.T) {
	var loads atomic.Int64
	cache := NewModelCache(func(ctx context.Context, modelID string) (EmbedClient, error) {
		loads.Add(1)
		return fakeClient{id: modelID}, nil
	}, nil)

	cache.Get(context.Background(), "model-a")
	cache.Evict("model-a")
	cache.Get(context.Background(), "model-a")
	if got := loads.Load(); got != 2 {
		t.Fatalf("expected a reload after evict, got %d loads", got)
	}
}

func TestModelCachePreloadCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	cache := NewModelCache(func(ctx context.Context, modelID string) (EmbedClient, error) {
		if modelID == "bad" {
			return nil, boom
		}
		return fakeClient{id: modelID}, nil
	}, nil)

	failures := cache.Preload(context.Background(), []string{"good-1", "bad", "good-2"})
	if len(failures) != 1 {
		t.Fatalf("expected exactly one failure, got %v", failures)
	}
	if !errors.Is(failures["bad"], boom) {
		t.Fatalf("expected boom for bad model, got %v", failures["bad"])
	}
}
