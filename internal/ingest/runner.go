package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/wagiedev/ragbroker/internal/config"
)

const (
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
	// maxRetainedRuns bounds how many finished runs are remembered.
	maxRetainedRuns = 100
)

// ErrUnknownJob indicates Trigger was called with a name not in configuration.
var ErrUnknownJob = stderrors.New("unknown ingestion job")

// ErrRunnerClosed indicates Trigger was called after Shutdown.
var ErrRunnerClosed = stderrors.New("ingestion runner closed")

// Status is the state of one run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Run is a snapshot of one triggered job.
type Run struct {
	ID         string     `json:"id"`
	Job        string     `json:"job"`
	Status     Status     `json:"status"`
	ExitCode   int        `json:"exitCode"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type run struct {
	Run

	output *tailWriter
}

// Runner starts configured jobs and tracks their runs.
type Runner struct {
	log     *slog.Logger
	jobs    map[string]config.JobConfig
	timeout time.Duration
	grace   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	order  []string
	closed bool
}

// NewRunner creates a runner for the jobs in cfg.
func NewRunner(log *slog.Logger, cfg config.IngestConfig) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &Runner{
		log:     log.With("component", "ingest"),
		jobs:    maps.Clone(cfg.Jobs),
		timeout: timeout,
		grace:   terminationGracePeriod,
		ctx:     ctx,
		cancel:  cancel,
		runs:    make(map[string]*run),
	}
}

// Names returns the configured job names in sorted order.
func (r *Runner) Names() []string {
	return slices.Sorted(maps.Keys(r.jobs))
}

// Trigger starts the named job and returns its run id without waiting.
func (r *Runner) Trigger(name string) (string, error) {
	job, ok := r.jobs[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRunnerClosed
	}

	rn := &run{
		Run: Run{
			ID:        uuid.NewString(),
			Job:       name,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		output: newTailWriter(),
	}

	r.runs[rn.ID] = rn
	r.order = append(r.order, rn.ID)
	r.pruneLocked()

	logger := r.log.With("job", name, "run_id", rn.ID)
	logger.Info("Triggering ingestion job")

	r.wg.Go(func() { r.execute(job, rn, logger) })

	return rn.ID, nil
}

// Get returns a snapshot of the run with id.
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rn, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}

	return r.snapshotLocked(rn), true
}

// List returns snapshots of all remembered runs, newest first.
func (r *Runner) List() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Run, 0, len(r.order))

	for _, id := range slices.Backward(r.order) {
		out = append(out, r.snapshotLocked(r.runs[id]))
	}

	return out
}

// Shutdown stops accepting triggers, terminates running jobs and waits for
// them to finish or ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for ingestion jobs: %w", ctx.Err())
	}
}

func (r *Runner) snapshotLocked(rn *run) Run {
	snap := rn.Run
	snap.Output = rn.output.Lines()

	return snap
}

// pruneLocked forgets the oldest finished runs beyond maxRetainedRuns.
func (r *Runner) pruneLocked() {
	for len(r.order) > maxRetainedRuns {
		idx := slices.IndexFunc(r.order, func(id string) bool {
			return r.runs[id].Status != StatusRunning
		})
		if idx < 0 {
			return
		}

		delete(r.runs, r.order[idx])
		r.order = slices.Delete(r.order, idx, idx+1)
	}
}

func (r *Runner) execute(job config.JobConfig, rn *run, logger *slog.Logger) {
	// Don't use CommandContext - we manage termination ourselves.
	//nolint:gosec // G204: job commands come from trusted configuration
	cmd := exec.Command(job.Command, job.Args...)
	cmd.Dir = job.Dir
	cmd.Env = os.Environ()

	for _, key := range slices.Sorted(maps.Keys(job.Env)) {
		cmd.Env = append(cmd.Env, key+"="+job.Env[key])
	}

	cmd.Stdout = rn.output
	cmd.Stderr = rn.output
	// Orphaned grandchildren may hold the output pipes open.
	cmd.WaitDelay = r.grace

	if err := cmd.Start(); err != nil {
		logger.Error("Failed to start ingestion job", "error", err)
		r.finish(rn, StatusFailed, -1, err)

		return
	}

	waitErr := make(chan error, 1)

	go func() {
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		r.complete(rn, err, logger)

	case <-timer.C:
		logger.Warn("Ingestion job timed out, sending SIGTERM", "timeout", r.timeout)
		r.terminate(cmd, waitErr, logger)
		r.finish(rn, StatusTimedOut, -1, fmt.Errorf("timed out after %s", r.timeout))

	case <-r.ctx.Done():
		logger.Warn("Runner shutting down, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		r.finish(rn, StatusFailed, -1, fmt.Errorf("interrupted by shutdown"))
	}
}

func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("Failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("Ingestion job exited after SIGTERM")
	case <-grace.C:
		logger.Warn("Ingestion job did not exit after SIGTERM, sending SIGKILL")

		if err := cmd.Process.Kill(); err != nil {
			logger.Error("Failed to send SIGKILL", "error", err)
		}

		<-waitErr
	}
}

func (r *Runner) complete(rn *run, err error, logger *slog.Logger) {
	if err == nil {
		logger.Info("Ingestion job succeeded")
		r.finish(rn, StatusSucceeded, 0, nil)

		return
	}

	exitCode := -1

	if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
		exitCode = exitErr.ExitCode()
	}

	logger.Warn("Ingestion job failed", "exit_code", exitCode, "error", err)
	r.finish(rn, StatusFailed, exitCode, err)
}

func (r *Runner) finish(rn *run, status Status, exitCode int, err error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rn.Status = status
	rn.ExitCode = exitCode
	rn.FinishedAt = &now

	if err != nil {
		rn.Error = err.Error()
	}
}
