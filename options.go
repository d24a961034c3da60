package ragbroker

import (
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/ragbroker/internal/config"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to a fresh Options struct.
func applyOptions(opts []Option) *Options {
	options := &config.Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Process =====

// WithCommand sets the worker executable. A bare name is looked up on PATH;
// a relative path is resolved against the working directory.
func WithCommand(command string) Option {
	return func(o *Options) {
		o.Command = command
	}
}

// WithArgs sets the worker's command-line arguments.
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.Args = args
	}
}

// WithDir sets the worker's working directory.
func WithDir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// WithEnv adds environment variables on top of the inherited environment.
// Repeated calls merge; later values win.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithDataDir points the worker at its index directory through the
// RAG_DATA_DIR variable, or through envVar when it is non-empty.
func WithDataDir(dir string, envVar ...string) Option {
	return func(o *Options) {
		o.DataDir = dir

		if len(envVar) > 0 && envVar[0] != "" {
			o.DataDirEnv = envVar[0]
		}
	}
}

// WithStderr sets a callback invoked for each line the worker writes to stderr.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}

// WithWorker replaces the subprocess with a caller-supplied Worker.
// Command settings are ignored when a worker is set.
func WithWorker(w Worker) Option {
	return func(o *Options) {
		o.Worker = w
	}
}

// ===== Timing =====

// WithReadinessTimeout bounds how long Submit waits for the worker to become ready.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ReadinessTimeout = d
	}
}

// WithRequestTimeout sets the default per-question deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = d
	}
}

// WithShutdownGrace sets how long Shutdown waits for a cooperative exit
// before signalling the worker.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) {
		o.ShutdownGrace = d
	}
}

// ===== Protocol =====

// WithDefaultTopK sets the passage count used when Submit is called with topK <= 0.
func WithDefaultTopK(k int) Option {
	return func(o *Options) {
		o.DefaultTopK = k
	}
}

// WithCorrelationMode selects echo (default) or serial correlation.
func WithCorrelationMode(mode CorrelationMode) Option {
	return func(o *Options) {
		o.CorrelationMode = mode
	}
}

// ===== Observability =====

// WithLogger sets the logger for broker diagnostics.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics registers the broker's Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Metrics = reg
	}
}
