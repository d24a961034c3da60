package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	brokererrors "github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/history"
	"github.com/wagiedev/ragbroker/internal/ingest"
	"github.com/wagiedev/ragbroker/internal/metrics"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// retryAfterSeconds is advertised when the worker is still starting.
const retryAfterSeconds = 5

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"topK,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// TriggerResponse is the body of POST /api/ingest/{job}.
type TriggerResponse struct {
	RunID string `json:"runId"`
	Job   string `json:"job"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.querier.State()

	resp := HealthResponse{Status: state.String(), Ready: state == worker.StateReady}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", metrics.OutcomeInvalid)

		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	timeout = min(timeout, s.config.MaxTimeout)

	start := time.Now()

	resp, err := s.querier.Submit(r.Context(), req.Question, req.TopK, timeout)

	entry := &history.Entry{
		Question:  req.Question,
		TopK:      req.TopK,
		Outcome:   metrics.Outcome(err),
		LatencyMS: time.Since(start).Milliseconds(),
	}

	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.CorrelationID = resp.CorrelationID
		entry.Answer = resp.Answer
	}

	s.record(r.Context(), entry)

	if err != nil {
		s.writeSubmitError(w, err)

		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// record writes to the query log. Failures are logged, never surfaced.
func (s *Server) record(ctx context.Context, e *history.Entry) {
	if s.history == nil {
		return
	}

	if err := s.history.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("Failed to record query", "error", err)
	}
}

func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", metrics.OutcomeInvalid)

			return
		}

		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list queries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list queries", metrics.OutcomeError)

		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"queries": entries})
}

func (s *Server) handleTriggerIngest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	id, err := s.jobs.Trigger(name)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownJob):
			s.writeError(w, http.StatusNotFound, err.Error(), "unknown_job")
		case errors.Is(err, ingest.ErrRunnerClosed):
			s.writeError(w, http.StatusServiceUnavailable, err.Error(), metrics.OutcomeUnavailable)
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error(), metrics.OutcomeError)
		}

		return
	}

	respondJSON(w, http.StatusAccepted, TriggerResponse{RunID: id, Job: name})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found", "unknown_run")

		return
	}

	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs": s.jobs.Names(),
		"runs": s.jobs.List(),
	})
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	status := StatusForError(err)

	if errors.Is(err, brokererrors.ErrWorkerNotReady) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("Query failed", "status", status, "error", err)
	}

	s.writeError(w, status, err.Error(), metrics.Outcome(err))
}

// StatusForError maps a Submit error onto an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, brokererrors.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, brokererrors.ErrWorkerBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, brokererrors.ErrWorkerNotReady),
		errors.Is(err, brokererrors.ErrWorkerUnavailable),
		errors.Is(err, brokererrors.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, brokererrors.ErrWriteFailed):
		return http.StatusBadGateway
	case errors.Is(err, brokererrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	if _, ok := errors.AsType[*brokererrors.ApplicationError](err); ok {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message, code string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}
