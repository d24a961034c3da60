package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/worker"
)

const waitTimeout = 5 * time.Second

type lineSink struct {
	ch chan string
}

func newLineSink() *lineSink {
	return &lineSink{ch: make(chan string, 64)}
}

func (l *lineSink) handle(line []byte) {
	l.ch <- string(line)
}

func (l *lineSink) next(t *testing.T) string {
	t.Helper()

	select {
	case line := <-l.ch:
		return line
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a line from the worker")

		return ""
	}
}

// shellWorker returns a supervisor running script under /bin/sh.
func shellWorker(t *testing.T, script string, mutate ...func(*config.Options)) *Supervisor {
	t.Helper()

	opts := &config.Options{
		Command: "sh",
		Args:    []string{"-c", script},
	}

	for _, m := range mutate {
		m(opts)
	}

	s := NewSupervisor(slog.Default(), opts)

	t.Cleanup(func() { _ = s.Kill() })

	return s
}

func waitClosed(t *testing.T, w worker.Worker) {
	t.Helper()

	select {
	case <-w.Closed():
	case <-time.After(waitTimeout):
		t.Fatal("worker did not close in time")
	}
}

func TestSupervisor_EchoRoundTrip(t *testing.T) {
	s := shellWorker(t, `echo '{"status":"ready"}'; while read -r line; do echo "$line"; done`)
	sink := newLineSink()

	require.NoError(t, s.Start(context.Background(), sink.handle))
	require.NotZero(t, s.PID())
	require.Equal(t, `{"status":"ready"}`, sink.next(t))

	require.NoError(t, s.SendLine(context.Background(), []byte(`{"question":"hello"}`)))
	require.Equal(t, `{"question":"hello"}`, sink.next(t))

	require.Equal(t, worker.StateStarting, s.State(), "readiness is decided by the broker, not the supervisor")
}

func TestSupervisor_StartTwice(t *testing.T) {
	s := shellWorker(t, `while read -r line; do :; done`)

	require.NoError(t, s.Start(context.Background(), nil))
	require.ErrorIs(t, s.Start(context.Background(), nil), errors.ErrAlreadyStarted)
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	s := NewSupervisor(slog.Default(), &config.Options{Command: "/nonexistent/ragbroker-worker"})

	var exitErr error

	exited := make(chan struct{})

	s.OnExit(func(err error) {
		exitErr = err

		close(exited)
	})

	err := s.Start(context.Background(), nil)

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "expected *SpawnError, got %T", err)
	require.Equal(t, "/nonexistent/ragbroker-worker", spawnErr.Path)

	<-exited
	require.Equal(t, err, exitErr)
	require.Equal(t, worker.StateClosed, s.State())
}

func TestSupervisor_SpawnCancelledContext(t *testing.T) {
	s := shellWorker(t, `exit 0`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Start(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, worker.StateClosed, s.State())
}

func TestSupervisor_ProcessErrorOnNonZeroExit(t *testing.T) {
	var (
		mu          sync.Mutex
		stderrLines []string
	)

	s := shellWorker(t, `echo "index missing" >&2; exit 3`, func(o *config.Options) {
		o.Stderr = func(line string) {
			mu.Lock()
			defer mu.Unlock()

			stderrLines = append(stderrLines, line)
		}
	})

	causes := make(chan error, 1)
	s.OnExit(func(err error) { causes <- err })

	require.NoError(t, s.Start(context.Background(), nil))
	waitClosed(t, s)

	cause := <-causes

	procErr, ok := stderrors.AsType[*errors.ProcessError](cause)
	require.True(t, ok, "expected *ProcessError, got %T", cause)
	require.Equal(t, 3, procErr.ExitCode)
	require.Equal(t, "index missing", procErr.Stderr)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"index missing"}, stderrLines)
}

func TestSupervisor_CleanExit(t *testing.T) {
	s := shellWorker(t, `echo done`)
	sink := newLineSink()

	causes := make(chan error, 1)
	s.OnExit(func(err error) { causes <- err })

	require.NoError(t, s.Start(context.Background(), sink.handle))
	require.Equal(t, "done", sink.next(t))
	waitClosed(t, s)
	require.NoError(t, <-causes)
	require.NoError(t, s.Err())
}

func TestSupervisor_PartialLineAtEOFIsDiscarded(t *testing.T) {
	s := shellWorker(t, `printf 'complete\npartial'`)
	sink := newLineSink()

	require.NoError(t, s.Start(context.Background(), sink.handle))
	require.Equal(t, "complete", sink.next(t))
	waitClosed(t, s)

	select {
	case line := <-sink.ch:
		t.Fatalf("unexpected line %q", line)
	default:
	}
}

func TestSupervisor_Terminate(t *testing.T) {
	s := shellWorker(t, `while read -r line; do :; done`)

	causes := make(chan error, 1)
	s.OnExit(func(err error) { causes <- err })

	require.NoError(t, s.Start(context.Background(), nil))
	require.NoError(t, s.Terminate())
	waitClosed(t, s)

	require.NoError(t, <-causes, "an intentional stop is not a process error")
	require.NoError(t, s.Terminate(), "signalling an exited worker is a no-op")
}

func TestSupervisor_KillIgnoresTrappedTerm(t *testing.T) {
	s := shellWorker(t, `trap '' TERM; echo started; while :; do sleep 0.05; done`)
	sink := newLineSink()

	require.NoError(t, s.Start(context.Background(), sink.handle))
	require.Equal(t, "started", sink.next(t))

	require.NoError(t, s.Terminate())

	select {
	case <-s.Closed():
		t.Fatal("worker ignoring SIGTERM should still be running")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, s.Kill())
	waitClosed(t, s)
}

func TestSupervisor_Environment(t *testing.T) {
	s := shellWorker(t, `echo "$PYTHONUNBUFFERED|$RAG_DATA_DIR|$EXTRA"`, func(o *config.Options) {
		o.DataDir = "/srv/rag"
		o.Env = map[string]string{"EXTRA": "x"}
	})
	sink := newLineSink()

	require.NoError(t, s.Start(context.Background(), sink.handle))
	require.Equal(t, "1|/srv/rag|x", sink.next(t))
}

func TestSupervisor_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()

	s := shellWorker(t, `pwd`, func(o *config.Options) { o.Dir = dir })
	sink := newLineSink()

	require.NoError(t, s.Start(context.Background(), sink.handle))

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(sink.next(t))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSupervisor_OpsBeforeStart(t *testing.T) {
	s := NewSupervisor(slog.Default(), &config.Options{Command: "sh"})

	require.ErrorIs(t, s.SendLine(context.Background(), []byte("x")), errors.ErrNotStarted)
	require.NoError(t, s.Terminate())
	require.NoError(t, s.Kill())
	require.Zero(t, s.PID())
}

func TestSendLine_ConcurrentWritesAreLineAtomic(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	s := NewSupervisor(slog.Default(), &config.Options{})
	s.stdin = writer

	const numWriters = 20

	received := make(chan []string, 1)

	go func() {
		var lines []string

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			lines = append(lines, scanner.Text())
			if len(lines) == numWriters {
				break
			}
		}

		received <- lines
	}()

	var wg sync.WaitGroup

	for i := range numWriters {
		wg.Go(func() {
			payload, err := json.Marshal(map[string]any{
				"correlationId": strconv.Itoa(i),
				"question":      strings.Repeat("q", 8*1024),
			})
			if !assert.NoError(t, err) {
				return
			}

			assert.NoError(t, s.SendLine(context.Background(), payload))
		})
	}

	wg.Wait()

	lines := <-received
	require.Len(t, lines, numWriters)

	for _, line := range lines {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &decoded), "interleaved line: %.40q", line)
	}
}

func TestSendLine_CancelDuringBlockedWrite(t *testing.T) {
	// Nobody reads the pipe, so the write blocks.
	reader, writer := io.Pipe()
	defer reader.Close()

	s := NewSupervisor(slog.Default(), &config.Options{})
	s.stdin = writer

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.SendLine(ctx, []byte(`{"question":"blocked"}`))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("SendLine did not respect context cancellation")
	}

	require.ErrorIs(t, s.SendLine(context.Background(), []byte("next")), errors.ErrStdinClosed)

	// A cut line leaves the stream unusable, so the worker is closed.
	require.Equal(t, worker.StateClosed, s.State())
	require.ErrorIs(t, s.Err(), errors.ErrStdinClosed)

	select {
	case <-s.Closed():
	default:
		t.Fatal("Closed channel still open after abandoned write")
	}
}

func TestSendLine_AbandonedWriteNotifiesExitHandlers(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	s := NewSupervisor(slog.Default(), &config.Options{})
	s.stdin = writer
	require.True(t, s.MarkReady())

	causes := make(chan error, 1)
	s.OnExit(func(err error) { causes <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.SendLine(ctx, []byte(`{"question":"blocked"}`)), context.DeadlineExceeded)

	select {
	case err := <-causes:
		require.ErrorIs(t, err, errors.ErrStdinClosed)
	case <-time.After(waitTimeout):
		t.Fatal("exit handler not called")
	}

	require.Equal(t, worker.StateClosed, s.State())
}

func TestSendLine_DoesNotMutateCallerSlice(t *testing.T) {
	original := make([]byte, 10, 20)
	copy(original, `{"test":1}`)

	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	go func() { _, _ = io.Copy(io.Discard, reader) }()

	s := NewSupervisor(slog.Default(), &config.Options{})
	s.stdin = writer

	require.NoError(t, s.SendLine(context.Background(), original))
	require.Zero(t, original[:cap(original)][10], "SendLine wrote into the caller's spare capacity")
}

func TestBuildEnvironment(t *testing.T) {
	env := BuildEnvironment(&config.Options{
		DataDir:    "/data",
		DataDirEnv: "INDEX_DIR",
		Env:        map[string]string{"B": "2", "A": "1"},
	})

	require.Greater(t, len(env), 4)
	require.Equal(t, []string{"PYTHONUNBUFFERED=1", "INDEX_DIR=/data", "A=1", "B=2"}, env[len(env)-4:])
	require.Equal(t, len(os.Environ())+4, len(env), "the parent environment is inherited unchanged")
}

func TestResolveCommand(t *testing.T) {
	path, err := resolveCommand("sh", "")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path) || filepath.Base(path) == "sh")

	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	path, err = resolveCommand("./worker.sh", dir)
	require.NoError(t, err)
	require.Equal(t, script, path)

	_, err = resolveCommand("./missing.sh", dir)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = resolveCommand("ragbroker-no-such-binary", "")
	require.Error(t, err)

	_, err = resolveCommand(dir+"/", "")
	require.Error(t, err)
}
