package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/metrics"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/registry"
	"github.com/wagiedev/ragbroker/internal/subprocess"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// maxLoggedLine caps how much of a malformed line is logged.
const maxLoggedLine = 256

// Broker sends questions to a worker process and matches its answers.
type Broker struct {
	log     *slog.Logger
	options *config.Options
	worker  worker.Worker
	pending *registry.Registry[*protocol.Response]
	metrics *metrics.Recorder
	ids     *idGenerator

	// slot holds the single in-flight token in serial correlation mode.
	slot chan struct{}

	// serialMu guards owed and drainOwed. owed counts answers the worker
	// still owes for queries written in serial mode; drainOwed is set when
	// the query that owes one was abandoned, so its answer must be dropped
	// before the slot is released.
	serialMu  sync.Mutex
	owed      int
	drainOwed bool

	// startMu orders Start against Shutdown.
	startMu  sync.Mutex
	started  atomic.Bool
	stopping atomic.Bool

	exitOnce sync.Once
	exited   chan struct{}

	shutdownOnce   sync.Once
	shutdownErr    error
	terminateGrace time.Duration
}

// New creates a broker for the worker described by options.
//
// If options.Worker is nil a subprocess supervisor is created from the
// command settings. The worker is not started until Start.
func New(log *slog.Logger, options *config.Options) (*Broker, error) {
	opts := options.WithDefaults()

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	w := opts.Worker
	if w == nil {
		w = subprocess.NewSupervisor(log, opts)
	}

	b := &Broker{
		log:            log.With("component", "broker"),
		options:        opts,
		worker:         w,
		pending:        registry.New[*protocol.Response](),
		metrics:        metrics.New(opts.Metrics),
		ids:            newIDGenerator(),
		exited:         make(chan struct{}),
		terminateGrace: min(defaultTerminateGrace, opts.ShutdownGrace),
	}

	if opts.CorrelationMode == config.CorrelationSerial {
		b.slot = make(chan struct{}, 1)
	}

	return b, nil
}

// Start spawns the worker. It may be called once.
//
// A spawn failure is returned as *errors.SpawnError and leaves the broker
// closed: every later Submit fails with ErrWorkerUnavailable. Start after
// Shutdown returns ErrWorkerUnavailable without spawning anything.
func (b *Broker) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.stopping.Load() {
		return errors.ErrWorkerUnavailable
	}

	if !b.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	b.worker.OnExit(b.handleExit)
	b.metrics.SetState(worker.StateStarting)

	b.log.Info("Starting worker",
		"correlation_mode", b.options.CorrelationMode,
		"readiness_timeout", b.options.ReadinessTimeout,
	)

	if err := b.worker.Start(ctx, b.dispatch); err != nil {
		// Workers that fail before spawning may never report an exit.
		b.handleExit(err)

		return err
	}

	return nil
}

// State returns the worker's lifecycle state. A broker that is shutting
// down or whose worker has exited reports StateClosed.
func (b *Broker) State() worker.State {
	if b.stopping.Load() {
		return worker.StateClosed
	}

	select {
	case <-b.exited:
		return worker.StateClosed
	default:
	}

	return b.worker.State()
}

// Ready returns a channel closed once the worker has reported readiness.
func (b *Broker) Ready() <-chan struct{} {
	return b.worker.Ready()
}

// Closed returns a channel closed once the worker has exited, or once a
// broker that never started has been shut down.
func (b *Broker) Closed() <-chan struct{} {
	return b.exited
}

// Pending returns the number of queries awaiting a response.
func (b *Broker) Pending() int {
	return b.pending.Len()
}

// Submit sends a question to the worker and waits for the matching answer.
//
// topK <= 0 uses the configured default; timeout <= 0 uses the configured
// request timeout. Submit fails with ErrWorkerUnavailable once the worker has
// exited, ErrWorkerNotReady if readiness is not reported in time,
// *errors.WriteError if the query cannot be written, *errors.TimeoutError if
// no answer arrives before the deadline, and *errors.ApplicationError if the
// worker answers with an error payload. Cancelling ctx abandons the request
// and returns ctx.Err().
func (b *Broker) Submit(
	ctx context.Context,
	question string,
	topK int,
	timeout time.Duration,
) (*protocol.Response, error) {
	start := time.Now()

	resp, err := b.submit(ctx, question, topK, timeout)

	b.metrics.QueryCompleted(err, time.Since(start))

	return resp, err
}

func (b *Broker) submit(
	ctx context.Context,
	question string,
	topK int,
	timeout time.Duration,
) (*protocol.Response, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is empty", errors.ErrInvalidQuery)
	}

	if b.stopping.Load() {
		return nil, errors.ErrWorkerUnavailable
	}

	if !b.started.Load() {
		return nil, errors.ErrNotStarted
	}

	if topK <= 0 {
		topK = b.options.DefaultTopK
	}

	if timeout <= 0 {
		timeout = b.options.RequestTimeout
	}

	if err := b.awaitReady(ctx); err != nil {
		return nil, err
	}

	if b.slot != nil {
		select {
		case b.slot <- struct{}{}:
			defer b.releaseSlot()
		default:
			return nil, errors.ErrWorkerBusy
		}
	}

	id := b.ids.next()

	future, err := b.pending.Register(id, timeout)
	if err != nil {
		return nil, err
	}

	b.metrics.SetPending(b.pending.Len())
	defer func() { b.metrics.SetPending(b.pending.Len()) }()

	query := &protocol.Query{Question: question, TopK: topK}
	if b.slot == nil {
		query.CorrelationID = id
	}

	data, err := protocol.EncodeQuery(query)
	if err != nil {
		b.pending.Reject(id, err)

		return nil, err
	}

	b.log.Debug("Sending query", "correlation_id", id, "top_k", topK, "timeout", timeout)

	// The write is bounded by the request deadline rather than the caller's
	// context: abandoning a half-written line would corrupt the stream.
	writeCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), future.Deadline())

	// Counted before the write so an immediate answer finds it owed.
	b.owe(1)

	err = b.worker.SendLine(writeCtx, data)

	cancel()

	if err != nil {
		b.owe(-1)
		b.log.Warn("Failed to write query", "correlation_id", id, "error", err)
		b.pending.Reject(id, &errors.WriteError{CorrelationID: id, Err: err})
	}

	select {
	case <-future.Done():
	case <-ctx.Done():
		if b.pending.Reject(id, ctx.Err()) {
			b.log.Debug("Query abandoned by caller", "correlation_id", id, "error", ctx.Err())
		}

		<-future.Done()
	}

	result := future.Result()
	if result.Err != nil {
		return nil, result.Err
	}

	if result.Value.IsError() {
		return nil, &errors.ApplicationError{
			CorrelationID: id,
			Message:       result.Value.ErrorMessage(),
			Payload:       result.Value.Raw,
		}
	}

	return result.Value, nil
}

// awaitReady blocks only the calling goroutine until the worker is ready.
func (b *Broker) awaitReady(ctx context.Context) error {
	if b.stopping.Load() {
		return errors.ErrWorkerUnavailable
	}

	select {
	case <-b.exited:
		return errors.ErrWorkerUnavailable
	default:
	}

	switch b.worker.State() {
	case worker.StateClosed:
		return errors.ErrWorkerUnavailable
	case worker.StateReady:
		return nil
	}

	timer := time.NewTimer(b.options.ReadinessTimeout)
	defer timer.Stop()

	select {
	case <-b.worker.Ready():
		if b.worker.State() == worker.StateClosed {
			return errors.ErrWorkerUnavailable
		}

		return nil
	case <-b.worker.Closed():
		return errors.ErrWorkerUnavailable
	case <-b.exited:
		return errors.ErrWorkerUnavailable
	case <-timer.C:
		return fmt.Errorf("%w after %s", errors.ErrWorkerNotReady, b.options.ReadinessTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch handles one stdout line. It runs on the worker's single reader
// goroutine and never blocks.
func (b *Broker) dispatch(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	env, err := protocol.Decode(line)
	if err != nil {
		b.metrics.MalformedLine()
		b.log.Warn("Dropping malformed line from worker", "error", err, "line", truncate(line))

		return
	}

	switch env.Kind {
	case protocol.KindReady:
		if b.worker.MarkReady() {
			b.metrics.SetState(worker.StateReady)
			b.log.Info("Worker ready")
		} else {
			b.log.Debug("Ignoring repeated readiness line")
		}

	case protocol.KindResponse:
		b.route(env.Response)

	default:
		b.log.Debug("Ignoring unrecognized line from worker", "line", truncate(line))
	}
}

// owe adjusts the count of answers owed in serial mode.
func (b *Broker) owe(n int) {
	if b.slot == nil {
		return
	}

	b.serialMu.Lock()
	b.owed += n
	b.serialMu.Unlock()
}

// releaseSlot gives up the serial slot when the submitting query ends. If
// the worker still owes an answer for it (the query timed out or was
// cancelled after being written), the slot stays held until that answer has
// been dropped, so it cannot be taken for the next query's answer.
func (b *Broker) releaseSlot() {
	b.serialMu.Lock()
	defer b.serialMu.Unlock()

	if b.owed > 0 {
		b.drainOwed = true
		b.log.Debug("Holding serial slot until the abandoned query's answer arrives")

		return
	}

	<-b.slot
}

// routeSerial matches an id-less answer to the single in-flight query.
func (b *Broker) routeSerial(resp *protocol.Response) {
	b.serialMu.Lock()
	defer b.serialMu.Unlock()

	if b.owed == 0 {
		b.metrics.UnmatchedResponse()
		b.log.Warn("Dropping response with no query in flight")

		return
	}

	b.owed--

	if b.drainOwed {
		b.drainOwed = false
		<-b.slot

		b.metrics.UnmatchedResponse()
		b.log.Warn("Dropping late response to an abandoned query")

		return
	}

	id, ok := b.pending.Oldest()
	if !ok || !b.pending.Resolve(id, resp) {
		// The query expired between its answer being written and read.
		b.metrics.UnmatchedResponse()
		b.log.Warn("Dropping response to an expired query")

		return
	}

	b.log.Debug("Resolved query", "correlation_id", id, "has_results", resp.HasResults)
}

func (b *Broker) route(resp *protocol.Response) {
	if b.slot != nil {
		b.routeSerial(resp)

		return
	}

	id := resp.CorrelationID

	if id == "" {
		b.metrics.UnmatchedResponse()
		b.log.Warn("Dropping response without correlation id")

		return
	}

	if !b.pending.Resolve(id, resp) {
		b.metrics.UnmatchedResponse()
		b.log.Warn("Dropping unmatched response", "correlation_id", id)

		return
	}

	b.log.Debug("Resolved query", "correlation_id", id, "has_results", resp.HasResults)
}

// handleExit runs once when the worker closes, whatever the cause.
func (b *Broker) handleExit(cause error) {
	b.exitOnce.Do(func() {
		close(b.exited)
		b.reportExit(cause, b.pending.RejectAll(errors.ErrWorkerUnavailable))
	})
}

func (b *Broker) reportExit(cause error, n int) {
	b.metrics.SetState(worker.StateClosed)
	b.metrics.SetPending(0)

	if b.stopping.Load() {
		b.log.Info("Worker stopped", "rejected", n)

		return
	}

	b.metrics.WorkerExited(cause)

	if cause != nil {
		b.log.Error("Worker exited unexpectedly", "error", cause, "rejected", n)
	} else {
		b.log.Warn("Worker exited", "rejected", n)
	}
}

func truncate(line []byte) string {
	if len(line) <= maxLoggedLine {
		return string(line)
	}

	return string(line[:maxLoggedLine]) + "..."
}
