// Package config provides configuration types for the query broker.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/ragbroker/internal/worker"
)

const (
	// DefaultReadinessTimeout bounds how long Submit waits for the readiness line.
	DefaultReadinessTimeout = 60 * time.Second

	// DefaultRequestTimeout is the per-request deadline when none is given.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownGrace is how long the worker gets to exit after the exit command.
	DefaultShutdownGrace = 5 * time.Second

	// DefaultTopK is the number of sources requested when the caller passes zero.
	DefaultTopK = 3

	// DefaultDataDirEnv is the environment variable the worker reads its index location from.
	DefaultDataDirEnv = "RAG_DATA_DIR"
)

// CorrelationMode controls how responses are matched to requests.
type CorrelationMode string

const (
	// CorrelationEcho requires the worker to echo the correlationId of each query.
	// Any number of queries may be in flight.
	CorrelationEcho CorrelationMode = "echo"

	// CorrelationSerial is the fallback for workers that do not echo ids:
	// at most one query is in flight and further submissions fail fast.
	CorrelationSerial CorrelationMode = "serial"
)

// Options configures a broker and the worker process it supervises.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Command is the worker executable (e.g. "python3").
	Command string

	// Args are the fixed arguments passed to Command.
	Args []string

	// Dir is the working directory of the worker. Empty means the current directory.
	Dir string

	// Env provides additional environment variables for the worker.
	// They are appended to the inherited environment, never replacing it.
	Env map[string]string

	// DataDir, when set, is exported to the worker as DataDirEnv.
	DataDir string

	// DataDirEnv names the variable DataDir is exported as.
	// Defaults to DefaultDataDirEnv.
	DataDirEnv string

	// ReadinessTimeout bounds how long Submit waits for the worker to become ready.
	ReadinessTimeout time.Duration

	// RequestTimeout is the default per-request deadline.
	RequestTimeout time.Duration

	// ShutdownGrace is how long the worker gets to exit on its own during Shutdown.
	ShutdownGrace time.Duration

	// DefaultTopK is used when Submit is called with topK <= 0.
	DefaultTopK int

	// Stderr receives each stderr line of the worker, for diagnostics only.
	Stderr func(string)

	// CorrelationMode selects echo (default) or serial matching.
	CorrelationMode CorrelationMode

	// Metrics registers broker collectors when non-nil.
	Metrics prometheus.Registerer

	// Worker allows injecting a custom worker implementation.
	// If nil, a subprocess supervisor is created from Command/Args/Dir/Env.
	Worker worker.Worker `json:"-"`
}

// WithDefaults returns a copy of o with zero values replaced by defaults.
func (o *Options) WithDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}

	if out.ReadinessTimeout <= 0 {
		out.ReadinessTimeout = DefaultReadinessTimeout
	}

	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}

	if out.ShutdownGrace <= 0 {
		out.ShutdownGrace = DefaultShutdownGrace
	}

	if out.DefaultTopK <= 0 {
		out.DefaultTopK = DefaultTopK
	}

	if out.DataDirEnv == "" {
		out.DataDirEnv = DefaultDataDirEnv
	}

	if out.CorrelationMode == "" {
		out.CorrelationMode = CorrelationEcho
	}

	return &out
}

// Validate checks that the options can produce a working broker.
func (o *Options) Validate() error {
	if o.Worker == nil && o.Command == "" {
		return fmt.Errorf("worker command is required")
	}

	switch o.CorrelationMode {
	case "", CorrelationEcho, CorrelationSerial:
	default:
		return fmt.Errorf("unknown correlation mode %q (want %q or %q)",
			o.CorrelationMode, CorrelationEcho, CorrelationSerial)
	}

	return nil
}
