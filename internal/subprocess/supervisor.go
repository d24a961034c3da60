package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wagiedev/ragbroker/internal/config"
	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/framer"
	"github.com/wagiedev/ragbroker/internal/worker"
)

const (
	// readChunkSize is the size of each read from the worker's stdout.
	readChunkSize = 64 * 1024
	// maxStderrBufferSize is the maximum size for the stderr buffer.
	// Stderr reading continues indefinitely (callback receives all lines),
	// but the buffer stops growing after this limit to prevent unbounded memory usage.
	maxStderrBufferSize = 1024 * 1024 // 1MB
	// writeLeakWait bounds how long SendLine waits for an abandoned write to return.
	writeLeakWait = time.Second
)

// Supervisor implements worker.Worker by spawning the worker as a subprocess.
type Supervisor struct {
	*worker.Lifecycle

	log            *slog.Logger
	options        *config.Options
	stderrCallback func(string)

	stateMu sync.Mutex // Protects cmd, started, closing
	cmd     *exec.Cmd
	started bool
	closing bool // Whether Terminate/Kill has been called (intentional shutdown)

	mu          sync.Mutex // Protects stdin writes
	stdin       io.WriteCloser
	stdinClosed bool

	stderrMu     sync.Mutex
	stderrBuffer strings.Builder
}

// Compile-time verification that Supervisor implements the Worker interface.
var _ worker.Worker = (*Supervisor)(nil)

// NewSupervisor creates a supervisor for the worker described by options.
// The process is not spawned until Start.
func NewSupervisor(log *slog.Logger, options *config.Options) *Supervisor {
	return &Supervisor{
		Lifecycle:      worker.NewLifecycle(),
		log:            log.With("component", "supervisor"),
		options:        options,
		stderrCallback: options.Stderr,
	}
}

// Start spawns the worker process and begins delivering stdout lines to onLine.
//
// Start may be called once; later calls return ErrAlreadyStarted. A spawn
// failure returns *errors.SpawnError and closes the supervisor. The context
// only gates the spawn itself: the process outlives it and is stopped with
// Terminate or Kill.
func (s *Supervisor) Start(ctx context.Context, onLine worker.LineHandler) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return errors.ErrAlreadyStarted
	}

	s.started = true

	if err := ctx.Err(); err != nil {
		return s.failSpawn(&errors.SpawnError{Path: s.options.Command, Err: err})
	}

	path, err := resolveCommand(s.options.Command, s.options.Dir)
	if err != nil {
		return s.failSpawn(err)
	}

	//nolint:gosec // G204: the worker command comes from trusted configuration
	cmd := exec.Command(path, s.options.Args...)
	cmd.Dir = s.options.Dir
	cmd.Env = BuildEnvironment(s.options)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.failSpawn(&errors.SpawnError{Path: path, Err: fmt.Errorf("stdin pipe: %w", err)})
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failSpawn(&errors.SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)})
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failSpawn(&errors.SpawnError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)})
	}

	if err := cmd.Start(); err != nil {
		return s.failSpawn(&errors.SpawnError{Path: path, Err: err})
	}

	s.cmd = cmd

	s.mu.Lock()
	s.stdin = stdin
	s.mu.Unlock()

	s.log.Info("Worker process started", "pid", cmd.Process.Pid, "command", path, "dir", cmd.Dir)

	var stderrWg sync.WaitGroup

	// Stderr must be fully read before Wait().
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe
	stderrWg.Go(func() { s.drainStderr(stderr) })

	go s.readLoop(stdout, &stderrWg, onLine)

	return nil
}

func (s *Supervisor) failSpawn(err error) error {
	s.log.Error("Failed to spawn worker", "error", err)
	s.MarkClosed(err)

	return err
}

// readLoop is the single stdout reader. It frames complete lines, hands them
// to onLine and, once stdout closes, waits for the process and closes the
// lifecycle with the exit cause.
func (s *Supervisor) readLoop(stdout io.Reader, stderrWg *sync.WaitGroup, onLine worker.LineHandler) {
	defer s.log.Debug("Stdout reader stopped")

	f := framer.New()
	buf := make([]byte, readChunkSize)
	lineCount := 0

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, line := range f.Feed(buf[:n]) {
				lineCount++

				if onLine != nil {
					onLine([]byte(line))
				}
			}
		}

		if err != nil {
			if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, os.ErrClosed) {
				s.log.Debug("Stdout read error", "error", err)
			}

			break
		}
	}

	if f.Buffered() > 0 {
		s.log.Warn("Discarding partial line at end of stdout", "bytes", f.Buffered())
	}

	stderrWg.Wait()

	s.log.Debug("Waiting for worker process to exit", "lines_read", lineCount)

	s.MarkClosed(s.exitCause(s.cmd.Wait()))
}

func (s *Supervisor) exitCause(waitErr error) error {
	if waitErr == nil {
		s.log.Info("Worker process exited cleanly")

		return nil
	}

	s.stateMu.Lock()
	isClosing := s.closing
	s.stateMu.Unlock()

	if isClosing {
		s.log.Debug("Worker process terminated during shutdown", "error", waitErr)

		return nil
	}

	exitCode := -1

	if exitErr, ok := stderrors.AsType[*exec.ExitError](waitErr); ok {
		exitCode = exitErr.ExitCode()
	}

	stderrOutput := s.Stderr()

	s.log.Error("Worker process exited with error", "exit_code", exitCode, "stderr", stderrOutput)

	return &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   stderrOutput,
		Err:      waitErr,
	}
}

func (s *Supervisor) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrBufferSize)

	for scanner.Scan() {
		line := scanner.Text()

		s.stderrMu.Lock()

		if s.stderrBuffer.Len() < maxStderrBufferSize {
			if s.stderrBuffer.Len() > 0 {
				s.stderrBuffer.WriteString("\n")
			}

			s.stderrBuffer.WriteString(line)
		}

		s.stderrMu.Unlock()

		s.log.Debug("Worker stderr", "line", line)

		if s.stderrCallback != nil {
			s.stderrCallback(line)
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.Debug("Stderr scanner error", "error", err)
		// Keep draining so the child never blocks on a full stderr pipe.
		_, _ = io.Copy(io.Discard, stderr)
	}
}

// SendLine writes one line to the worker's stdin.
//
// A trailing newline is added when missing. Concurrent calls are serialized
// and each line is written in full before the next begins. If ctx is
// cancelled while the write is blocked, stdin is closed to unblock it (a
// partially written line cannot be recovered). The worker is then closed
// and sent SIGTERM, and later calls return ErrStdinClosed.
func (s *Supervisor) SendLine(ctx context.Context, data []byte) error {
	abandoned, err := s.writeLine(ctx, data)
	if abandoned {
		s.abandon()
	}

	return err
}

// abandon closes a worker whose input stream was cut mid-line.
func (s *Supervisor) abandon() {
	s.log.Warn("Worker input abandoned mid-line, stopping worker")

	s.MarkClosed(fmt.Errorf("%w: write abandoned mid-line", errors.ErrStdinClosed))

	if err := s.Terminate(); err != nil {
		s.log.Warn("Failed to terminate worker after abandoned write", "error", err)
	}
}

// writeLine reports abandoned when stdin had to be closed under a blocked write.
func (s *Supervisor) writeLine(ctx context.Context, data []byte) (abandoned bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return false, errors.ErrNotStarted
	}

	if s.stdinClosed {
		return false, errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	// Use explicit copy to avoid mutating caller's backing array if slice has spare capacity
	if len(data) == 0 || data[len(data)-1] != '\n' {
		newData := make([]byte, len(data)+1)
		copy(newData, data)
		newData[len(data)] = '\n'
		data = newData
	}

	done := make(chan error, 1)

	go func() {
		_, err := s.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Debug("Failed to write line to worker", "error", err)

			return false, fmt.Errorf("write to stdin: %w", err)
		}

		return false, nil

	case <-ctx.Done():
		s.log.Warn("Context cancelled during blocked write, closing stdin")

		_ = s.stdin.Close()
		s.stdinClosed = true

		select {
		case <-done:
		case <-time.After(writeLeakWait):
			s.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return true, ctx.Err()
	}
}

// Terminate asks the worker to exit by sending SIGTERM.
// It is a no-op when the process was never started or has already exited.
func (s *Supervisor) Terminate() error {
	return s.signal(syscall.SIGTERM)
}

// Kill forcibly terminates the worker with SIGKILL.
// It is a no-op when the process was never started or has already exited.
func (s *Supervisor) Kill() error {
	return s.signal(syscall.SIGKILL)
}

func (s *Supervisor) signal(sig syscall.Signal) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.closing = true

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	s.log.Debug("Signalling worker process", "pid", s.cmd.Process.Pid, "signal", sig.String())

	if err := s.cmd.Process.Signal(sig); err != nil {
		if stderrors.Is(err, os.ErrProcessDone) {
			return nil
		}

		return fmt.Errorf("signal %s to worker (pid %d): %w", sig, s.cmd.Process.Pid, err)
	}

	return nil
}

// PID returns the worker's process id, or 0 when not running.
func (s *Supervisor) PID() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}

	return s.cmd.Process.Pid
}

// Stderr returns the buffered stderr output collected so far.
func (s *Supervisor) Stderr() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()

	return strings.TrimSpace(s.stderrBuffer.String())
}
