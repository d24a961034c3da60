// Package metrics exposes broker activity as Prometheus collectors.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/worker"
)

const namespace = "ragbroker"

// Query outcomes used as the "outcome" label.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeNotReady    = "not_ready"
	OutcomeBusy        = "busy"
	OutcomeWriteFailed = "write_failed"
	OutcomeAppError    = "app_error"
	OutcomeInvalid     = "invalid"
	OutcomeCancelled   = "cancelled"
	OutcomeError       = "error"
)

// Recorder holds the broker's collectors.
type Recorder struct {
	queries   *prometheus.CounterVec
	latency   prometheus.Histogram
	pending   prometheus.Gauge
	state     prometheus.Gauge
	malformed prometheus.Counter
	unmatched prometheus.Counter
	exits     *prometheus.CounterVec
}

// New creates a recorder and registers its collectors on reg.
// It returns nil when reg is nil. Collectors already registered on reg by an
// earlier recorder are reused, so brokers replaced by a restart policy keep
// reporting into the same series.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return nil
	}

	return &Recorder{
		queries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries submitted to the worker, by outcome.",
		}, []string{"outcome"})),
		latency: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time from submission to resolution of a query.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		})),
		pending: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Queries awaiting a response from the worker.",
		})),
		state: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_state",
			Help:      "Worker lifecycle state: 0 starting, 1 ready, 2 closed.",
		})),
		malformed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_lines_total",
			Help:      "Worker stdout lines that could not be decoded.",
		})),
		unmatched: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_responses_total",
			Help:      "Responses whose correlation id matched no pending query.",
		})),
		exits: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Worker process exits, by whether the exit was clean.",
		}, []string{"clean"})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := stderrors.AsType[prometheus.AlreadyRegisteredError](err); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}

		panic(err)
	}

	return c
}

// QueryCompleted records the outcome and latency of one query.
func (r *Recorder) QueryCompleted(err error, elapsed time.Duration) {
	if r == nil {
		return
	}

	r.queries.WithLabelValues(Outcome(err)).Inc()
	r.latency.Observe(elapsed.Seconds())
}

// SetPending records the number of queries awaiting a response.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}

	r.pending.Set(float64(n))
}

// SetState records the worker lifecycle state.
func (r *Recorder) SetState(s worker.State) {
	if r == nil {
		return
	}

	r.state.Set(float64(s))
}

// MalformedLine counts a stdout line that failed to decode.
func (r *Recorder) MalformedLine() {
	if r == nil {
		return
	}

	r.malformed.Inc()
}

// UnmatchedResponse counts a response that matched no pending query.
func (r *Recorder) UnmatchedResponse() {
	if r == nil {
		return
	}

	r.unmatched.Inc()
}

// WorkerExited counts a worker exit. A nil cause is a clean exit.
func (r *Recorder) WorkerExited(cause error) {
	if r == nil {
		return
	}

	clean := "true"
	if cause != nil {
		clean = "false"
	}

	r.exits.WithLabelValues(clean).Inc()
}

// Outcome maps a Submit error onto an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case stderrors.Is(err, errors.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case stderrors.Is(err, errors.ErrWorkerUnavailable):
		return OutcomeUnavailable
	case stderrors.Is(err, errors.ErrWorkerNotReady):
		return OutcomeNotReady
	case stderrors.Is(err, errors.ErrWorkerBusy):
		return OutcomeBusy
	case stderrors.Is(err, errors.ErrWriteFailed):
		return OutcomeWriteFailed
	case stderrors.Is(err, errors.ErrInvalidQuery):
		return OutcomeInvalid
	case stderrors.Is(err, context.Canceled):
		return OutcomeCancelled
	}

	if _, ok := stderrors.AsType[*errors.ApplicationError](err); ok {
		return OutcomeAppError
	}

	return OutcomeError
}
