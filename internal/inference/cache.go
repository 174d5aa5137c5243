// Package inference is the inference façade (§4.J): a model cache, an
// admission-control semaphore, and a GPU-pressure monitor sitting in front
// of an embedding provider, reached through the same breaker every other
// external call goes through.
package inference

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/fishysoftware/semantic-pipeline/pkg/fn"
)

// EmbedClient is the one call a loaded model handle needs to support.
type EmbedClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader resolves a model id (an embedder config id) to a usable client,
// decrypting whatever credential the config carries along the way.
type Loader func(ctx context.Context, modelID string) (EmbedClient, error)

type modelHandle struct {
	mu     sync.Mutex
	client EmbedClient
	err    error
	loaded bool
}

// ModelCache is a map from model id to a lazily initialized handle: a
// read lock on the map for lookup, a per-handle mutex for the load itself,
// so one slow model's init never blocks lookups of the others.
type ModelCache struct {
	loader Loader
	log    *slog.Logger

	mu      sync.RWMutex
	handles map[string]*modelHandle
}

// NewModelCache builds an empty cache around loader.
func NewModelCache(loader Loader, log *slog.Logger) *ModelCache {
	if log == nil {
		log = slog.Default()
	}
	return &ModelCache{loader: loader, log: log, handles: make(map[string]*modelHandle)}
}

func (c *ModelCache) handleFor(modelID string) *modelHandle {
	c.mu.RLock()
	h, ok := c.handles[modelID]
	c.mu.RUnlock()
	if ok {
		return h
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[modelID]; ok {
		return h
	}
	h = &modelHandle{}
	c.handles[modelID] = h
	return h
}

// Get returns modelID's client, loading it on first use. Concurrent callers
// for the same model id block on that model's handle only.
func (c *ModelCache) Get(ctx context.Context, modelID string) (EmbedClient, error) {
	h := c.handleFor(modelID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return h.client, h.err
	}
	h.client, h.err = c.loader(ctx, modelID)
	h.loaded = true
	return h.client, h.err
}

// Preload loads every model id in parallel with bounded concurrency
// (hardware parallelism), for the startup warm pass. A model's failure is
// logged and returned in failures, but never aborts the others or the boot.
func (c *ModelCache) Preload(ctx context.Context, modelIDs []string) map[string]error {
	type outcome struct {
		id  string
		err error
	}
	outcomes := fn.ParMap(modelIDs, runtime.GOMAXPROCS(0), func(id string) outcome {
		_, err := c.Get(ctx, id)
		return outcome{id: id, err: err}
	})

	failures := make(map[string]error)
	for _, o := range outcomes {
		if o.err != nil {
			failures[o.id] = o.err
			c.log.Warn("inference: model preload failed", "model_id", o.id, "err", o.err)
		}
	}
	return failures
}

// Evict drops modelID's handle, forcing the next Get to reload it. Used
// after an embedder config is updated so stale credentials aren't reused.
func (c *ModelCache) Evict(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, modelID)
}
