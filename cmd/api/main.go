// Command api runs the HTTP surface: health, metrics, and the thin
// adapters (transform trigger, stats, embedder connectivity probe) that
// exercise the core engine end-to-end from one process. Full CRUD is out
// of scope (§1 scope note) — those routes are long-lived services this
// core consumes, not reimplemented here.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fishysoftware/semantic-pipeline/internal/audit"
	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/domain"
	"github.com/fishysoftware/semantic-pipeline/internal/inference"
	"github.com/fishysoftware/semantic-pipeline/internal/metrics"
	"github.com/fishysoftware/semantic-pipeline/internal/scanner"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
	"github.com/fishysoftware/semantic-pipeline/pkg/config"
	"github.com/fishysoftware/semantic-pipeline/pkg/mid"
)

// defaultMaxDownloadSizeBytes bounds a single object-store GET (§4.B's
// size-guarded download), matching the teacher's guard against loading an
// unexpectedly huge object into memory.
const defaultMaxDownloadSizeBytes = 50 * 1024 * 1024

// Config holds all environment-based configuration, following
// cmd/api/main.go's loadConfig shape in the teacher repo.
type Config struct {
	Port         string
	PostgresDSN  string
	NATSAddr     string
	QdrantAddr   string
	Bucket       string
	CORSOrigin   string
	GPUThreshold float64
	MaxInference int64
	QueueTimeout time.Duration
}

func loadConfig() Config {
	return Config{
		Port:         config.EnvOr("PORT", "8080"),
		PostgresDSN:  config.EnvOr("POSTGRES_DSN", "postgres://localhost:5432/pipeline"),
		NATSAddr:     config.EnvOr("NATS_URL", "nats://localhost:4222"),
		QdrantAddr:   config.EnvOr("QDRANT_URL", "localhost:6334"),
		Bucket:       config.EnvOr("OBJECT_STORE_BUCKET", "pipeline-artifacts"),
		CORSOrigin:   config.EnvOr("CORS_ORIGIN", "*"),
		GPUThreshold: config.EnvFloatOr("GPU_PRESSURE_THRESHOLD", inference.DefaultPressureThreshold),
		MaxInference: int64(config.EnvIntOr("INFERENCE_MAX_CONCURRENT_REQUESTS", int(inference.DefaultConfig.MaxConcurrentRequests))),
		QueueTimeout: config.EnvMillisOr("INFERENCE_QUEUE_TIMEOUT_MS", int(inference.DefaultQueueTimeout/time.Millisecond)),
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadConfig()
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the transform engine's HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)
			return run(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	cmd.Flags().StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	cmd.Flags().StringVar(&cfg.NATSAddr, "nats-url", cfg.NATSAddr, "NATS server URL")
	cmd.Flags().StringVar(&cfg.QdrantAddr, "qdrant-url", cfg.QdrantAddr, "Qdrant gRPC address")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Object store bucket")
	cmd.Flags().StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Access-Control-Allow-Origin value")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rel, err := relational.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("relational connect: %w", err)
	}
	defer rel.Close()

	obj, err := objectstore.New(ctx, cfg.Bucket, defaultMaxDownloadSizeBytes)
	if err != nil {
		return fmt.Errorf("objectstore connect: %w", err)
	}

	b, err := bus.Connect(cfg.NATSAddr)
	if err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}
	defer b.Close()
	if err := b.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	// Placeholder seam: a deployment's KMS integration supplies the real
	// decryptor; internal/transform depends only on the interface.
	decryptor := transform.APIKeyDecryptorFunc(func(_ context.Context, encrypted string) (string, error) {
		return encrypted, nil
	})

	sc := scanner.New(rel, obj, b, decryptor, cfg.Bucket, logger)
	auditor := audit.NewBusAuditor(b, audit.NewLoggingAuditor(logger), logger)

	reg := metrics.New()
	gpu := inference.NewGPUMonitor(nil, cfg.GPUThreshold, logger)
	facade := inference.New(inference.Config{
		MaxConcurrentRequests: cfg.MaxInference,
		QueueTimeout:          cfg.QueueTimeout,
		GPUPressureThreshold:  cfg.GPUThreshold,
	}, embedderLoader(rel, decryptor), gpu, nil, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/transforms/trigger", handleTrigger(sc, auditor, logger))
	mux.HandleFunc("GET /api/transforms/{id}/stats", handleStats(rel, logger))
	mux.HandleFunc("POST /api/embedders/{id}/test", handleEmbedderTest(rel, facade, decryptor, auditor, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// embedderLoader resolves a model id (an embedder config id) to a
// concrete inference.EmbedClient, the Loader the model cache calls on a
// cache miss.
func embedderLoader(rel *relational.Gateway, decryptor transform.APIKeyDecryptor) inference.Loader {
	return func(ctx context.Context, modelID string) (inference.EmbedClient, error) {
		cfg, err := rel.GetEmbedderConfigPrivileged(ctx, modelID)
		if err != nil {
			return nil, err
		}
		apiKey, err := decryptor.DecryptAPIKey(ctx, cfg.EncryptedAPIKey)
		if err != nil {
			return nil, err
		}
		return inference.NewHTTPEmbedClient(cfg, apiKey), nil
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type triggerRequest struct {
	TransformID string `json:"transform_id"`
}

func handleTrigger(sc *scanner.Scanner, auditor audit.Auditor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransformID == "" {
			http.Error(w, `{"error":"transform_id is required"}`, http.StatusBadRequest)
			return
		}
		if err := sc.Trigger(r.Context(), req.TransformID); err != nil {
			logger.Error("trigger failed", "transform_id", req.TransformID, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		auditor.Record(r.Context(), actorID(r), "transform.trigger", req.TransformID)
		w.WriteHeader(http.StatusAccepted)
	}
}

// actorID reads the caller identity a fronting auth proxy already
// validated; this thin API layer trusts the header rather than
// re-verifying bearer tokens itself.
func actorID(r *http.Request) string {
	if id := r.Header.Get("X-Actor-ID"); id != "" {
		return id
	}
	return "unknown"
}

func handleStats(rel *relational.Gateway, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		stats, err := rel.AggregateStats(r.Context(), []string{id})
		if err != nil {
			logger.Error("aggregate stats", "transform_id", id, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		s, ok := stats[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	}
}

type embedderTestRequest struct {
	APIKeyOverride string `json:"api_key_override,omitempty"`
}

// handleEmbedderTest is the supplemented connectivity-probe endpoint: it
// resolves the saved embedder config (or an unsaved one the caller is
// still validating, via APIKeyOverride) and calls Facade.Probe, which
// bypasses the model cache but still runs through the breaker.
func handleEmbedderTest(rel *relational.Gateway, facade *inference.Facade, decryptor transform.APIKeyDecryptor, auditor audit.Auditor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var req embedderTestRequest
		json.NewDecoder(r.Body).Decode(&req)

		cfg, err := rel.GetEmbedderConfigPrivileged(r.Context(), id)
		if err != nil {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}

		apiKey := req.APIKeyOverride
		if apiKey == "" {
			apiKey, err = decryptor.DecryptAPIKey(r.Context(), cfg.EncryptedAPIKey)
			if err != nil {
				logger.Error("decrypt embedder key", "embedder_id", id, "err", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}
		}

		if err := facade.Probe(r.Context(), cfg, apiKey); err != nil {
			status := http.StatusBadGateway
			var derr *domain.Error
			if errors.As(err, &derr) && derr.Kind == domain.KindOverload {
				status = http.StatusServiceUnavailable
			}
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		auditor.Record(r.Context(), actorID(r), "embedder.test", id)
		w.WriteHeader(http.StatusNoContent)
	}
}
