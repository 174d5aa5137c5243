package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/breaker"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// Config sizes a Facade's admission control and pressure threshold.
type Config struct {
	MaxConcurrentRequests int64
	QueueTimeout          time.Duration
	GPUPressureThreshold  float64
}

// DefaultConfig matches spec §4.J's stated defaults.
var DefaultConfig = Config{
	MaxConcurrentRequests: 8,
	QueueTimeout:          DefaultQueueTimeout,
	GPUPressureThreshold:  DefaultPressureThreshold,
}

// Facade is the single entry point transform workers call to embed text:
// a circuit-breaker check, then a GPU-pressure check, then admission
// control, then a breaker-wrapped call through the model cache.
type Facade struct {
	cache     *ModelCache
	admission *Admission
	gpu       *GPUMonitor
	breaker   *breaker.Breaker
	log       *slog.Logger
}

// New builds a Facade. gpu may be nil (no GPU to watch).
func New(cfg Config, loader Loader, gpu *GPUMonitor, br *breaker.Breaker, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	if br == nil {
		br = breaker.New(breaker.DefaultOpts)
	}
	return &Facade{
		cache:     NewModelCache(loader, log),
		admission: NewAdmission(cfg.MaxConcurrentRequests, cfg.QueueTimeout),
		gpu:       gpu,
		breaker:   br,
		log:       log,
	}
}

// Preload warms every allowed model id in parallel at startup.
func (f *Facade) Preload(ctx context.Context, modelIDs []string) map[string]error {
	return f.cache.Preload(ctx, modelIDs)
}

// Embed runs one batch of texts through modelID's client. The admission
// chain matches spec order: an open circuit rejects before a GPU-pressure
// check, which in turn rejects before an admission permit is ever
// acquired, so a tripped breaker or a saturated device never consumes a
// permit another request could have used.
func (f *Facade) Embed(ctx context.Context, modelID string, texts []string) ([][]float32, error) {
	if f.breaker.State() == breaker.StateOpen {
		return nil, domain.NewError(domain.KindOverload, "inference.Facade.Embed", breaker.ErrCircuitOpen)
	}
	if f.gpu != nil && f.gpu.UnderPressure() {
		return nil, domain.NewError(domain.KindOverload, "inference.Facade.Embed", domain.ErrOverload)
	}

	release, err := f.admission.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	client, err := f.cache.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}

	var out [][]float32
	err = f.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = client.Embed(ctx, texts)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Probe is the connectivity check behind the embedder "test" endpoint: a
// single small embed call against cfg, bypassing the model cache since the
// config under test may not be saved yet. Still goes through the breaker
// so a provider outage trips the same circuit a normal Embed call would.
func (f *Facade) Probe(ctx context.Context, cfg domain.EmbedderConfig, apiKey string) error {
	client := NewHTTPEmbedClient(cfg, apiKey)
	return f.breaker.Call(ctx, func(ctx context.Context) error {
		_, err := client.Embed(ctx, []string{"connectivity probe"})
		return err
	})
}

// EvictModel forces modelID's cached client to reload on next use, for
// after an embedder config's credential or endpoint changes.
func (f *Facade) EvictModel(modelID string) {
	f.cache.Evict(modelID)
}
