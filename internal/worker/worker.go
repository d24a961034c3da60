package worker

import "context"

// LineHandler receives each complete line read from the worker's stdout.
// It is called from the single reader goroutine and must not block.
type LineHandler func(line []byte)

// Worker is the subset of process supervision the broker depends on.
//
// The default implementation is subprocess.Supervisor. Tests and alternative
// hosts may provide their own.
type Worker interface {
	// Start spawns the worker once and begins delivering stdout lines to onLine.
	Start(ctx context.Context, onLine LineHandler) error

	// SendLine writes one newline-terminated line to the worker's stdin.
	// Concurrent calls are serialized and never interleave.
	SendLine(ctx context.Context, data []byte) error

	// State returns the current lifecycle state.
	State() State

	// MarkReady records that the readiness line was observed.
	MarkReady() bool

	// Ready is closed on the Starting -> Ready transition.
	Ready() <-chan struct{}

	// Closed is closed once the worker has exited.
	Closed() <-chan struct{}

	// OnExit registers a handler invoked exactly once when the worker closes.
	OnExit(handler func(error))

	// Terminate asks the process to exit (SIGTERM).
	Terminate() error

	// Kill forcibly terminates the process (SIGKILL).
	Kill() error
}
