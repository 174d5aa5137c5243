// Command scanner runs the scanner/dispatcher daemon (§4.G): a periodic
// sweep over enabled transforms that turns unprocessed source material
// into batch artifacts and dispatches a job per batch onto the durable
// bus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/scanner"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/internal/transform"
	"github.com/fishysoftware/semantic-pipeline/pkg/config"
)

const defaultMaxDownloadSizeBytes = 50 * 1024 * 1024

type Config struct {
	PostgresDSN string
	NATSAddr    string
	Bucket      string
	Interval    time.Duration
}

func loadConfig() Config {
	return Config{
		PostgresDSN: config.EnvOr("POSTGRES_DSN", "postgres://localhost:5432/pipeline"),
		NATSAddr:    config.EnvOr("NATS_URL", "nats://localhost:4222"),
		Bucket:      config.EnvOr("OBJECT_STORE_BUCKET", "pipeline-artifacts"),
		Interval:    config.EnvSecondsOr("SCAN_INTERVAL_SECS", 30),
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadConfig()
	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "Run the transform scanner/dispatcher daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)
			return run(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	cmd.Flags().StringVar(&cfg.NATSAddr, "nats-url", cfg.NATSAddr, "NATS server URL")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Object store bucket")
	cmd.Flags().DurationVar(&cfg.Interval, "interval", cfg.Interval, "Scan interval")
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

	decryptor := transform.APIKeyDecryptorFunc(func(_ context.Context, encrypted string) (string, error) {
		return encrypted, nil
	})

	sc := scanner.New(rel, obj, b, decryptor, cfg.Bucket, logger)

	logger.Info("scanner starting", "interval", cfg.Interval)
	return sc.Run(ctx, cfg.Interval)
}
