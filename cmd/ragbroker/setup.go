package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/ragbroker/internal/broker"
	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/respawn"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// querier is what every front end needs from the broker, with or without
// the respawn policy in front of it.
type querier interface {
	Start(ctx context.Context) error
	Submit(ctx context.Context, question string, topK int, timeout time.Duration) (*protocol.Response, error)
	State() worker.State
	Shutdown(ctx context.Context) error
}

var (
	_ querier = (*broker.Broker)(nil)
	_ querier = (*respawn.Restarter)(nil)
)

// setup loads the configuration and builds the logger it describes.
// Command-line flags override the file's log settings.
func setup(g *globalFlags, w io.Writer) (*config.File, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if g.logLevel != "" {
		level = g.logLevel
	}

	format := cfg.Log.Format
	if g.logFormat != "" {
		format = g.logFormat
	}

	logger, err := newLogger(w, level, format)
	if err != nil {
		return nil, nil, err
	}

	slog.SetDefault(logger)

	return cfg, logger, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// newQuerier builds the broker described by cfg, wrapped in the respawn
// policy when it is enabled. Nothing is started.
func newQuerier(cfg *config.File, logger *slog.Logger, reg prometheus.Registerer) (querier, error) {
	opts := cfg.Options(logger)
	opts.Metrics = reg
	opts.Stderr = func(line string) {
		logger.Info("Worker stderr", "line", line)
	}

	if !cfg.Respawn.Enabled {
		b, err := broker.New(logger, opts)
		if err != nil {
			return nil, err
		}

		return b, nil
	}

	if err := opts.WithDefaults().Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	factory := func(ctx context.Context) (*broker.Broker, error) {
		b, err := broker.New(logger, opts)
		if err != nil {
			return nil, err
		}

		if err := b.Start(ctx); err != nil {
			return nil, err
		}

		return b, nil
	}

	return respawn.New(logger, factory, respawn.Policy{
		MaxAttempts:     cfg.Respawn.MaxAttempts,
		InitialInterval: cfg.Respawn.InitialInterval,
		MaxInterval:     cfg.Respawn.MaxInterval,
	}), nil
}

// shutdown stops q, bounding the wait by the worker's grace periods.
func shutdown(q querier, grace time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*grace+5*time.Second)
	defer cancel()

	if err := q.Shutdown(ctx); err != nil {
		logger.Warn("Broker shutdown incomplete", "error", err)
	}
}
