// Command listener runs the result listener daemon (§4.H): one instance
// per job kind, each driving its own durable JetStream consumer on the
// status stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fishysoftware/semantic-pipeline/internal/bus"
	"github.com/fishysoftware/semantic-pipeline/internal/listener"
	"github.com/fishysoftware/semantic-pipeline/internal/statusbus"
	"github.com/fishysoftware/semantic-pipeline/internal/store/objectstore"
	"github.com/fishysoftware/semantic-pipeline/internal/store/relational"
	"github.com/fishysoftware/semantic-pipeline/pkg/config"
)

const defaultMaxDownloadSizeBytes = 50 * 1024 * 1024

type Config struct {
	PostgresDSN string
	NATSAddr    string
	Bucket      string
	Kind        string
}

func loadConfig() Config {
	return Config{
		PostgresDSN: config.EnvOr("POSTGRES_DSN", "postgres://localhost:5432/pipeline"),
		NATSAddr:    config.EnvOr("NATS_URL", "nats://localhost:4222"),
		Bucket:      config.EnvOr("OBJECT_STORE_BUCKET", "pipeline-artifacts"),
		Kind:        config.EnvOr("LISTENER_KIND", "dataset"),
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadConfig()
	cmd := &cobra.Command{
		Use:   "listener",
		Short: "Run one job kind's result listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)
			return run(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	cmd.Flags().StringVar(&cfg.NATSAddr, "nats-url", cfg.NATSAddr, "NATS server URL")
	cmd.Flags().StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Object store bucket")
	cmd.Flags().StringVar(&cfg.Kind, "kind", cfg.Kind, "Job kind (status subject segment): collection, dataset, or visualization")
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

	status := statusbus.New(b)
	l := listener.New(rel, obj, status, cfg.Kind, logger)

	c, err := l.Consumer(ctx, b)
	if err != nil {
		return fmt.Errorf("build consumer: %w", err)
	}

	logger.Info("listener starting", "kind", cfg.Kind)
	return l.Run(ctx, c)
}
