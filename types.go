package ragbroker

import (
	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// Re-export types from internal packages

// ===== Options and Configuration =====

// Options configures a Broker.
type Options = config.Options

// CorrelationMode selects how answers are matched to questions.
type CorrelationMode = config.CorrelationMode

const (
	// CorrelationEcho sends a correlation id with each query and expects the
	// worker to echo it. Any number of queries may be in flight.
	CorrelationEcho = config.CorrelationEcho
	// CorrelationSerial allows one query in flight and matches the next
	// answer to it. For workers that do not echo ids.
	CorrelationSerial = config.CorrelationSerial
)

// ===== Wire Types =====

// Response is the worker's answer to a question.
type Response = protocol.Response

// Source is one supporting document returned with an answer.
type Source = protocol.Source

// ===== Worker =====

// Worker is the process the broker talks to. The default is a subprocess
// started from Options.Command; tests and embedders may supply their own.
type Worker = worker.Worker

// LineHandler receives each complete line the worker writes to stdout.
type LineHandler = worker.LineHandler

// State is the worker lifecycle state.
type State = worker.State

const (
	// StateStarting means the worker is spawned but has not reported readiness.
	StateStarting = worker.StateStarting
	// StateReady means the worker accepts questions.
	StateReady = worker.StateReady
	// StateClosed means the worker has exited. It is terminal.
	StateClosed = worker.StateClosed
)
