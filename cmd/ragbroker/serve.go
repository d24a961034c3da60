package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/history"
	"github.com/wagiedev/ragbroker/internal/httpapi"
	"github.com/wagiedev/ragbroker/internal/ingest"
	"github.com/wagiedev/ragbroker/internal/natsbridge"
)

// ingestShutdownTimeout bounds how long serve waits for running batch jobs.
const ingestShutdownTimeout = 30 * time.Second

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker behind the HTTP and NATS adapters",
		Long: `Serve starts the worker and answers questions until interrupted.

The HTTP API always runs. The NATS bridge runs when nats.url is set, query
history is kept when history.path is set and ingestion jobs are exposed when
ingest.jobs is non-empty. SIGINT or SIGTERM shuts the worker down
cooperatively before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup(g, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.File, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	q, err := newQuerier(cfg, logger, reg)
	if err != nil {
		return err
	}

	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	defer shutdown(q, cfg.Options(logger).WithDefaults().ShutdownGrace, logger)

	var hist httpapi.HistoryStore

	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open query history: %w", err)
		}

		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close query history", "error", err)
			}
		}()

		hist = store
	}

	var jobs httpapi.IngestRunner

	if len(cfg.Ingest.Jobs) > 0 {
		runner := ingest.NewRunner(logger, cfg.Ingest)

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ingestShutdownTimeout)
			defer cancel()

			if err := runner.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Ingestion jobs still running at exit", "error", err)
			}
		}()

		jobs = runner
	}

	eg, egCtx := errgroup.WithContext(ctx)

	api := httpapi.New(httpapi.Config{Listen: cfg.HTTP.Listen, Gatherer: reg}, q, hist, jobs, logger)
	eg.Go(func() error { return api.Start(egCtx) })

	if cfg.NATS.URL != "" {
		bridge := natsbridge.New(natsbridge.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Queue:   cfg.NATS.Queue,
		}, q, logger)

		eg.Go(func() error { return bridge.Start(egCtx) })
	}

	logger.Info("Ragbroker ready",
		"version", Version,
		"listen", cfg.HTTP.Listen,
		"nats", cfg.NATS.URL != "",
		"history", hist != nil,
		"ingest_jobs", len(cfg.Ingest.Jobs),
		"respawn", cfg.Respawn.Enabled,
	)

	if err := eg.Wait(); err != nil {
		return err
	}

	logger.Info("Shutting down")

	return nil
}
