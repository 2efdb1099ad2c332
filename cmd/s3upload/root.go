package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/events"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/internal/logging"
)

// app holds the state shared by every command.
type app struct {
	dotenv   string
	logLevel string

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	notifier *events.Notifier
	client   *s3upload.Client
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "s3upload",
		Short: "Resilient uploads to S3-compatible object stores",
		Long: `s3upload stores files in an S3-compatible object store.

Uploads are validated before any network call, split into parallel parts when
large, retried with backoff, and guarded by a circuit breaker.

Configuration is read from S3UPLOAD_* environment variables and a .env file.

Examples:
  s3upload upload ./cat.png originals/cat.png
  s3upload presign-post originals/cat.png --content-type image/png
  s3upload ls originals/
  s3upload serve`,
		SilenceUsage:       true,
		PersistentPreRunE:  func(cmd *cobra.Command, _ []string) error { return a.setup(cmd.Context()) },
		PersistentPostRunE: func(*cobra.Command, []string) error { return a.close() },
	}

	rootCmd.PersistentFlags().StringVar(&a.dotenv, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override S3UPLOAD_LOG_LEVEL")

	rootCmd.AddCommand(newUploadCommand(a))
	rootCmd.AddCommand(newPresignPostCommand(a))
	rootCmd.AddCommand(newPresignGetCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newRemoveCommand(a))
	rootCmd.AddCommand(newStatCommand(a))
	rootCmd.AddCommand(newServeCommand(a))

	return rootCmd
}

// setup loads the configuration and builds the client. It is a no-op when a
// client is already set.
func (a *app) setup(ctx context.Context) error {
	if a.client != nil {
		return nil
	}

	cfg, err := config.Load(a.dotenv)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := append(cfg.Options(),
		s3upload.WithLogger(logger),
		s3upload.WithMetricsRegistry(registry),
	)
	if cfg.NATSURL != "" {
		notifier, err := events.Connect(ctx, events.Config{
			URL:     cfg.NATSURL,
			Stream:  cfg.NATSStream,
			Subject: cfg.NATSSubject,
		}, logger)
		if err != nil {
			return err
		}
		a.notifier = notifier
		opts = append(opts, s3upload.WithNotifier(notifier))
	}

	client, err := s3upload.New(ctx, opts...)
	if err != nil {
		_ = a.close()
		return fmt.Errorf("create client: %w", err)
	}

	a.cfg, a.logger, a.registry, a.client = cfg, logger, registry, client
	return nil
}

func (a *app) close() error {
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.notifier != nil {
		return a.notifier.Close()
	}
	return nil
}
