package ragbroker

import (
	"context"
	"time"

	"github.com/wagiedev/ragbroker/internal/broker"
)

// Broker multiplexes questions from concurrent callers onto one long-running
// worker process.
//
// A Broker is used in three phases: Start spawns the worker, Submit may then
// be called from any number of goroutines, and Shutdown stops the worker and
// fails anything still pending. A Broker cannot be restarted; build a new one
// (or use a respawn policy) after the worker exits.
type Broker interface {
	// Start spawns the worker. It returns once the process is running, not
	// once it is ready: Submit waits for readiness on its own.
	Start(ctx context.Context) error

	// Submit asks one question and waits for the matching answer.
	// topK <= 0 and timeout <= 0 select the configured defaults.
	Submit(ctx context.Context, question string, topK int, timeout time.Duration) (*Response, error)

	// Shutdown asks the worker to exit, escalating to SIGTERM and SIGKILL,
	// and fails every pending question with ErrWorkerUnavailable.
	// It is idempotent.
	Shutdown(ctx context.Context) error

	// State returns the worker lifecycle state.
	State() State

	// Ready is closed once the worker reports readiness.
	Ready() <-chan struct{}

	// Closed is closed once the worker has exited.
	Closed() <-chan struct{}

	// Pending returns the number of questions awaiting an answer.
	Pending() int
}

// Compile-time verification that the internal broker implements Broker.
var _ Broker = (*broker.Broker)(nil)

// New creates a Broker. The worker is not spawned until Start.
//
// Example usage:
//
//	b, err := ragbroker.New(
//	    ragbroker.WithCommand("python3"),
//	    ragbroker.WithArgs("-m", "docs_rag.worker"),
//	    ragbroker.WithDataDir("/srv/rag"),
//	)
func New(opts ...Option) (Broker, error) {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	b, err := broker.New(log, options)
	if err != nil {
		return nil, err
	}

	return b, nil
}
