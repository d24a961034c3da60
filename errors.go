package ragbroker

import "github.com/wagiedev/ragbroker/internal/errors"

// Re-export error types from internal package

// BrokerError is the marker interface implemented by every structured error.
type BrokerError = errors.BrokerError

// SpawnError indicates the worker process could not be started.
type SpawnError = errors.SpawnError

// ProcessError indicates the worker process exited with a non-zero status.
type ProcessError = errors.ProcessError

// WriteError indicates a query could not be written to the worker.
type WriteError = errors.WriteError

// TimeoutError indicates no answer arrived before the request deadline.
type TimeoutError = errors.TimeoutError

// ApplicationError carries an error payload returned by the worker.
type ApplicationError = errors.ApplicationError

// LineDecodeError indicates a worker output line was not valid JSON.
type LineDecodeError = errors.LineDecodeError

// Re-export sentinel errors from internal package.
var (
	// ErrWorkerUnavailable indicates the worker has exited or is shutting down.
	ErrWorkerUnavailable = errors.ErrWorkerUnavailable

	// ErrWorkerNotReady indicates readiness was not reported in time.
	ErrWorkerNotReady = errors.ErrWorkerNotReady

	// ErrWorkerBusy indicates a serial worker already has a query in flight.
	ErrWorkerBusy = errors.ErrWorkerBusy

	// ErrWriteFailed is matched by every WriteError.
	ErrWriteFailed = errors.ErrWriteFailed

	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.ErrTimeout

	// ErrInvalidQuery indicates the question was rejected before sending.
	ErrInvalidQuery = errors.ErrInvalidQuery

	// ErrAlreadyStarted indicates Start was called more than once.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrNotStarted indicates the broker was used before Start.
	ErrNotStarted = errors.ErrNotStarted

	// ErrDuplicateID indicates a correlation id was registered twice.
	ErrDuplicateID = errors.ErrDuplicateID
)
