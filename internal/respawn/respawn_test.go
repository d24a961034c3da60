package respawn

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker/internal/broker"
	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// answeringWorker is ready on start and answers every query immediately.
type answeringWorker struct {
	*worker.Lifecycle

	onLine worker.LineHandler
}

func (w *answeringWorker) Start(_ context.Context, onLine worker.LineHandler) error {
	w.onLine = onLine
	w.MarkReady()

	return nil
}

func (w *answeringWorker) SendLine(_ context.Context, data []byte) error {
	var q protocol.Query
	if err := json.Unmarshal(data, &q); err != nil || q.Question == "" {
		return nil
	}

	resp, err := json.Marshal(protocol.Response{CorrelationID: q.CorrelationID, Answer: "re: " + q.Question})
	if err != nil {
		return err
	}

	go w.onLine(resp)

	return nil
}

func (w *answeringWorker) Terminate() error { w.MarkClosed(nil); return nil }
func (w *answeringWorker) Kill() error      { w.MarkClosed(nil); return nil }

type fixture struct {
	mu       sync.Mutex
	workers  []*answeringWorker
	failures int
	calls    int
}

func (f *fixture) factory(ctx context.Context) (*broker.Broker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.failures > 0 {
		f.failures--

		return nil, &errors.SpawnError{Path: "python3", Err: stderrors.New("resource temporarily unavailable")}
	}

	w := &answeringWorker{Lifecycle: worker.NewLifecycle()}

	b, err := broker.New(slog.Default(), &config.Options{Worker: w, ShutdownGrace: 10 * time.Millisecond})
	if err != nil {
		return nil, err
	}

	if err := b.Start(ctx); err != nil {
		return nil, err
	}

	f.workers = append(f.workers, w)

	return b, nil
}

func (f *fixture) worker(i int) *answeringWorker {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.workers[i]
}

var fastPolicy = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestRestarter_RespawnsAfterExit(t *testing.T) {
	f := &fixture{}
	r := New(slog.Default(), f.factory, fastPolicy)

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	resp, err := r.Submit(context.Background(), "first", 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, "re: first", resp.Answer)

	f.worker(0).MarkClosed(&errors.ProcessError{ExitCode: 1, Err: stderrors.New("exit status 1")})
	require.Equal(t, worker.StateClosed, r.State())

	resp, err = r.Submit(context.Background(), "second", 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, "re: second", resp.Answer)
	require.Equal(t, 1, r.Restarts())
	require.Equal(t, worker.StateReady, r.State())
}

func TestRestarter_RetriesSpawnFailures(t *testing.T) {
	f := &fixture{failures: 2}
	r := New(slog.Default(), f.factory, fastPolicy)

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	require.Equal(t, 3, f.calls)
}

func TestRestarter_GivesUpAfterMaxAttempts(t *testing.T) {
	f := &fixture{failures: 10}
	r := New(slog.Default(), f.factory, Policy{MaxAttempts: 2, InitialInterval: time.Millisecond})

	err := r.Start(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "2 attempt(s)")

	_, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok)
	require.Equal(t, 2, f.calls)
}

func TestRestarter_StopsOnContextCancel(t *testing.T) {
	f := &fixture{failures: 10}
	r := New(slog.Default(), f.factory, Policy{MaxAttempts: 100, InitialInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.Error(t, r.Start(ctx))
	require.Equal(t, 1, f.calls)
}

func TestRestarter_Lifecycle(t *testing.T) {
	f := &fixture{}
	r := New(slog.Default(), f.factory, fastPolicy)

	_, err := r.Submit(context.Background(), "too early", 0, 0)
	require.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, r.Start(context.Background()))
	require.ErrorIs(t, r.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, r.Shutdown(context.Background()))
	require.Equal(t, worker.StateClosed, r.State())

	_, err = r.Submit(context.Background(), "too late", 0, 0)
	require.ErrorIs(t, err, errors.ErrWorkerUnavailable)
}
