package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/protocol"
)

// defaultTerminateGrace is how long the worker gets to honour SIGTERM
// before it is killed.
const defaultTerminateGrace = 2 * time.Second

// Shutdown stops the worker and fails every pending query with
// ErrWorkerUnavailable.
//
// The worker is first asked to exit with the exit command and given the
// configured grace period. If it is still running it receives SIGTERM and,
// after a shorter grace, SIGKILL. Cancelling ctx skips the remaining grace
// periods. Shutdown is idempotent: later calls return the first result.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.startMu.Lock()
		b.stopping.Store(true)
		started := b.started.Load()
		b.startMu.Unlock()

		if !started {
			// Nothing was spawned; later Start calls fail.
			b.handleExit(nil)

			return
		}

		b.shutdownErr = b.stopWorker(ctx)

		// The exit handler normally drains the registry; this covers a
		// worker that never confirmed its exit.
		if n := b.pending.RejectAll(errors.ErrWorkerUnavailable); n > 0 {
			b.log.Warn("Rejected pending queries after shutdown", "count", n)
		}
	})

	return b.shutdownErr
}

func (b *Broker) stopWorker(ctx context.Context) error {
	select {
	case <-b.worker.Closed():
		return nil
	default:
	}

	grace := b.options.ShutdownGrace

	b.log.Info("Shutting down worker", "grace", grace, "pending", b.pending.Len())

	b.sendExit(ctx, grace)

	if b.waitExit(ctx, grace) {
		b.log.Info("Worker exited after exit command")

		return nil
	}

	b.log.Warn("Worker did not exit after exit command, sending SIGTERM")

	if err := b.worker.Terminate(); err != nil {
		b.log.Warn("Failed to send SIGTERM", "error", err)
	}

	if b.waitExit(ctx, b.terminateGrace) {
		b.log.Info("Worker exited after SIGTERM")

		return nil
	}

	b.log.Warn("Worker did not exit after SIGTERM, sending SIGKILL")

	if err := b.worker.Kill(); err != nil {
		return fmt.Errorf("kill worker: %w", err)
	}

	if b.waitExit(ctx, grace) {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for worker exit: %w", err)
	}

	return fmt.Errorf("worker did not exit after SIGKILL")
}

// sendExit writes the exit command. Failure is expected when the worker has
// already closed stdin, so it is only logged.
func (b *Broker) sendExit(ctx context.Context, grace time.Duration) {
	data, err := protocol.EncodeCommand(protocol.CommandExit)
	if err != nil {
		b.log.Warn("Failed to encode exit command", "error", err)

		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := b.worker.SendLine(writeCtx, data); err != nil {
		b.log.Debug("Failed to send exit command", "error", err)
	}
}

// waitExit reports whether the worker closed within d.
func (b *Broker) waitExit(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-b.worker.Closed():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		select {
		case <-b.worker.Closed():
			return true
		default:
			return false
		}
	}
}
