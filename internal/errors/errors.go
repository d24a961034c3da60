package errors

import (
	"errors"
	"fmt"
	"time"
)

// BrokerError is the base interface for all broker errors.
type BrokerError interface {
	error
	IsBrokerError() bool
}

// Compile-time verification that all error types implement BrokerError.
var (
	_ BrokerError = (*SpawnError)(nil)
	_ BrokerError = (*ProcessError)(nil)
	_ BrokerError = (*WriteError)(nil)
	_ BrokerError = (*TimeoutError)(nil)
	_ BrokerError = (*ApplicationError)(nil)
	_ BrokerError = (*LineDecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrWorkerUnavailable indicates the worker process has exited or the
	// broker was shut down. A new broker is required to talk to a new worker.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrWorkerNotReady indicates the worker did not report readiness within
	// the readiness window. Callers may retry after a backoff.
	ErrWorkerNotReady = errors.New("worker not ready")

	// ErrWorkerBusy indicates a request is already in flight while the broker
	// runs in serial correlation mode.
	ErrWorkerBusy = errors.New("worker busy: a request is already in flight")

	// ErrWriteFailed indicates the query could not be written to the worker's stdin.
	ErrWriteFailed = errors.New("write to worker failed")

	// ErrTimeout indicates no matching response arrived before the deadline.
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidQuery indicates the query was rejected before being sent.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrAlreadyStarted indicates Start was called on a worker or broker more than once.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted indicates an operation that requires a running worker was
	// called before Start.
	ErrNotStarted = errors.New("not started")

	// ErrDuplicateID indicates a correlation id is already registered.
	ErrDuplicateID = errors.New("duplicate correlation id")

	// ErrStdinClosed indicates stdin was closed due to context cancellation or shutdown.
	ErrStdinClosed = errors.New("stdin closed")
)

// SpawnError indicates the worker process could not be started.
// It is fatal: the broker cannot be used.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsBrokerError implements BrokerError.
func (e *SpawnError) IsBrokerError() bool { return true }

// ProcessError indicates the worker process exited with an error.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsBrokerError implements BrokerError.
func (e *ProcessError) IsBrokerError() bool { return true }

// WriteError indicates a query line could not be written to the worker.
// It is request-scoped and matches ErrWriteFailed.
type WriteError struct {
	CorrelationID string
	Err           error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write query %s: %v", e.CorrelationID, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}

// IsBrokerError implements BrokerError.
func (e *WriteError) IsBrokerError() bool { return true }

// TimeoutError indicates a pending request's deadline elapsed. It matches ErrTimeout.
type TimeoutError struct {
	CorrelationID string
	After         time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s: no response after %s", e.CorrelationID, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// IsBrokerError implements BrokerError.
func (e *TimeoutError) IsBrokerError() bool { return true }

// ApplicationError carries a structured error payload returned by the worker.
// It is passed through to the caller and never retried.
type ApplicationError struct {
	CorrelationID string
	Message       string
	Payload       map[string]any
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("worker returned error for %s: %s", e.CorrelationID, e.Message)
}

// IsBrokerError implements BrokerError.
func (e *ApplicationError) IsBrokerError() bool { return true }

// LineDecodeError indicates a stdout line from the worker was not a JSON object.
// This error preserves the original raw data that failed to parse.
type LineDecodeError struct {
	RawData string
	Err     error
}

func (e *LineDecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON line from worker: %v", e.Err)
}

func (e *LineDecodeError) Unwrap() error {
	return e.Err
}

// IsBrokerError implements BrokerError.
func (e *LineDecodeError) IsBrokerError() bool { return true }
