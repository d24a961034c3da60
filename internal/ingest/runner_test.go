package ingest

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker/internal/config"
)

func shellJob(script string) config.JobConfig {
	return config.JobConfig{Command: "sh", Args: []string{"-c", script}}
}

func newTestRunner(t *testing.T, timeout time.Duration, jobs map[string]config.JobConfig) *Runner {
	t.Helper()

	r := NewRunner(slog.Default(), config.IngestConfig{Timeout: timeout, Jobs: jobs})
	r.grace = 100 * time.Millisecond

	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	return r
}

func waitFinished(t *testing.T, r *Runner, id string) Run {
	t.Helper()

	var got Run

	require.Eventually(t, func() bool {
		run, ok := r.Get(id)
		if !ok {
			return false
		}

		got = run

		return run.Status != StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	return got
}

func TestRunner_Success(t *testing.T) {
	r := newTestRunner(t, time.Minute, map[string]config.JobConfig{
		"crawl": shellJob(`echo "fetched 12 pages"; echo "wrote raw/" >&2; printf 'no newline'`),
	})

	id, err := r.Trigger("crawl")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run := waitFinished(t, r, id)
	require.Equal(t, StatusSucceeded, run.Status)
	require.Equal(t, "crawl", run.Job)
	require.Zero(t, run.ExitCode)
	require.Empty(t, run.Error)
	require.NotNil(t, run.FinishedAt)
	require.Contains(t, run.Output, "fetched 12 pages")
	require.Contains(t, run.Output, "wrote raw/")
	require.Equal(t, "no newline", run.Output[len(run.Output)-1])
}

func TestRunner_Failure(t *testing.T) {
	r := newTestRunner(t, time.Minute, map[string]config.JobConfig{
		"index": shellJob(`echo "embedding model missing" >&2; exit 4`),
	})

	id, err := r.Trigger("index")
	require.NoError(t, err)

	run := waitFinished(t, r, id)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, 4, run.ExitCode)
	require.Equal(t, []string{"embedding model missing"}, run.Output)
}

func TestRunner_StartFailure(t *testing.T) {
	r := newTestRunner(t, time.Minute, map[string]config.JobConfig{
		"clean": {Command: "/nonexistent/clean.py"},
	})

	id, err := r.Trigger("clean")
	require.NoError(t, err)

	run := waitFinished(t, r, id)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, -1, run.ExitCode)
	require.NotEmpty(t, run.Error)
}

func TestRunner_TimeoutSendsSIGTERM(t *testing.T) {
	r := newTestRunner(t, 50*time.Millisecond, map[string]config.JobConfig{
		"crawl": shellJob(`exec sleep 10`),
	})

	id, err := r.Trigger("crawl")
	require.NoError(t, err)

	run := waitFinished(t, r, id)
	require.Equal(t, StatusTimedOut, run.Status)
	require.Contains(t, run.Error, "timed out")
}

func TestRunner_TimeoutEscalatesToSIGKILL(t *testing.T) {
	r := newTestRunner(t, 50*time.Millisecond, map[string]config.JobConfig{
		"crawl": shellJob(`trap '' TERM; exec sleep 10`),
	})

	start := time.Now()

	id, err := r.Trigger("crawl")
	require.NoError(t, err)

	run := waitFinished(t, r, id)
	require.Equal(t, StatusTimedOut, run.Status)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_UnknownJob(t *testing.T) {
	r := newTestRunner(t, time.Minute, nil)

	_, err := r.Trigger("reindex")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunner_ListAndNames(t *testing.T) {
	r := newTestRunner(t, time.Minute, map[string]config.JobConfig{
		"crawl": shellJob(`true`),
		"clean": shellJob(`true`),
	})

	require.Equal(t, []string{"clean", "crawl"}, r.Names())

	first, err := r.Trigger("crawl")
	require.NoError(t, err)

	second, err := r.Trigger("clean")
	require.NoError(t, err)

	waitFinished(t, r, first)
	waitFinished(t, r, second)

	runs := r.List()
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Equal(t, first, runs[1].ID)

	_, ok := r.Get("missing")
	require.False(t, ok)
}

func TestRunner_ShutdownInterruptsJobs(t *testing.T) {
	r := newTestRunner(t, time.Minute, map[string]config.JobConfig{
		"crawl": shellJob(`exec sleep 10`),
	})

	id, err := r.Trigger("crawl")
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(context.Background()))

	run, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusFailed, run.Status)
	require.Contains(t, run.Error, "shutdown")

	_, err = r.Trigger("crawl")
	require.ErrorIs(t, err, ErrRunnerClosed)
}

func TestTailWriter_KeepsLastLines(t *testing.T) {
	w := newTailWriter()

	for i := range maxOutputLines + 10 {
		_, err := w.Write([]byte(strings.Repeat("x", i%5) + "\n"))
		require.NoError(t, err)
	}

	require.Len(t, w.Lines(), maxOutputLines)
}
