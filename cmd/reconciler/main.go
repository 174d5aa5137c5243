// Command reconciler runs the reconciliation loop daemon (§4.I): pending
// retries, failed-batch recovery, orphan cleanup, ledger trim, and
// stuck-batch detection, on a fixed interval.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/metrics"
	"github.com/fishysoftware/semantic-pipeline/internal/reconciler"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/pkg/config"
)

const defaultMaxDownloadSizeBytes = 50 * 1024 * 1024

type Config struct {
	PostgresDSN string
	NATSAddr    string
	Bucket      string
	Interval    time.Duration
	MetricsAddr string
}

func loadConfig() Config {
	return Config{
		PostgresDSN: config.EnvOr("POSTGRES_DSN", "postgres://localhost:5432/pipeline"),
		NATSAddr:    config.EnvOr("NATS_URL", "nats://localhost:4222"),
		Bucket:      config.EnvOr("OBJECT_STORE_BUCKET", "pipeline-artifacts"),
		Interval:    config.EnvSecondsOr("RECONCILIATION_INTERVAL_SECS", 300),
		MetricsAddr: config.EnvOr("RECONCILER_METRICS_ADDR", ":9092"),
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadConfig()
	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Run the reconciliation loop daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)
			return run(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	cmd.Flags().StringVar(&cfg.NATSAddr, "nats-url", cfg.NATSAddr, "NATS server URL")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Object store bucket")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", cfg.Interval, "Reconciliation interval")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus /metrics listen address")
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

	reg := metrics.New()
	go func() {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "err", err)
		}
	}()

	r := reconciler.New(rel, obj, b, cfg.Bucket, reg, logger)

	logger.Info("reconciler starting", "interval", cfg.Interval)
	return r.Run(ctx, cfg.Interval)
}
