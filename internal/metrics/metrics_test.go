package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/worker"
)

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder

	require.Nil(t, New(nil))
	require.NotPanics(t, func() {
		r.QueryCompleted(nil, time.Second)
		r.SetPending(3)
		r.SetState(worker.StateReady)
		r.MalformedLine()
		r.UnmatchedResponse()
		r.WorkerExited(nil)
	})
}

func TestRecorder_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.QueryCompleted(nil, 100*time.Millisecond)
	r.QueryCompleted(&errors.TimeoutError{CorrelationID: "x", After: time.Second}, time.Second)
	r.QueryCompleted(nil, 200*time.Millisecond)
	r.SetPending(4)
	r.SetState(worker.StateReady)
	r.MalformedLine()
	r.UnmatchedResponse()
	r.UnmatchedResponse()
	r.WorkerExited(fmt.Errorf("exit status 1"))

	require.InDelta(t, 2, testutil.ToFloat64(r.queries.WithLabelValues(OutcomeOK)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.queries.WithLabelValues(OutcomeTimeout)), 0)
	require.InDelta(t, 4, testutil.ToFloat64(r.pending), 0)
	require.InDelta(t, float64(worker.StateReady), testutil.ToFloat64(r.state), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.malformed), 0)
	require.InDelta(t, 2, testutil.ToFloat64(r.unmatched), 0)
	require.InDelta(t, 1, testutil.ToFloat64(r.exits.WithLabelValues("false")), 0)
	require.Equal(t, 1, testutil.CollectAndCount(r.latency))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := New(reg)
	second := New(reg)

	first.MalformedLine()
	second.MalformedLine()

	require.InDelta(t, 2, testutil.ToFloat64(second.malformed), 0)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&errors.TimeoutError{}, OutcomeTimeout},
		{context.DeadlineExceeded, OutcomeTimeout},
		{errors.ErrWorkerUnavailable, OutcomeUnavailable},
		{fmt.Errorf("submit: %w", errors.ErrWorkerNotReady), OutcomeNotReady},
		{errors.ErrWorkerBusy, OutcomeBusy},
		{&errors.WriteError{CorrelationID: "a", Err: fmt.Errorf("broken pipe")}, OutcomeWriteFailed},
		{&errors.ApplicationError{Message: "index missing"}, OutcomeAppError},
		{errors.ErrInvalidQuery, OutcomeInvalid},
		{context.Canceled, OutcomeCancelled},
		{fmt.Errorf("other"), OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, Outcome(tt.err))
		})
	}
}
