// Package respawn replaces a broker whose worker has exited.
//
// A Broker is single-use: once its worker closes it fails every request
// with ErrWorkerUnavailable. Restarter sits in front of it and, on the next
// submission after such an exit, builds a fresh broker using bounded
// exponential backoff. The broker's own state machine is unchanged.
package respawn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wagiedev/ragbroker/internal/broker"
	"github.com/wagiedev/ragbroker/internal/errors"
	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// Factory builds and starts a new broker.
type Factory func(ctx context.Context) (*broker.Broker, error)

// Policy bounds how hard the restarter tries to bring a worker back.
type Policy struct {
	// MaxAttempts is the number of spawn attempts per respawn. Minimum 1.
	MaxAttempts int

	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts.
	MaxInterval time.Duration
}

// Restarter delegates to a current broker and respawns it when it closes.
type Restarter struct {
	log     *slog.Logger
	factory Factory
	policy  Policy

	mu       sync.Mutex
	current  *broker.Broker
	restarts int
	closed   bool
}

// New creates a restarter. No broker is built until Start.
func New(log *slog.Logger, factory Factory, policy Policy) *Restarter {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	return &Restarter{
		log:     log.With("component", "respawn"),
		factory: factory,
		policy:  policy,
	}
}

// Start builds the first broker, retrying spawn failures per the policy.
func (r *Restarter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return errors.ErrAlreadyStarted
	}

	_, err := r.spawnLocked(ctx)

	return err
}

// Submit forwards to the current broker, respawning it first if its worker
// has exited.
func (r *Restarter) Submit(
	ctx context.Context,
	question string,
	topK int,
	timeout time.Duration,
) (*protocol.Response, error) {
	b, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}

	return b.Submit(ctx, question, topK, timeout)
}

// State returns the state of the current broker's worker.
func (r *Restarter) State() worker.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil || r.closed {
		return worker.StateClosed
	}

	return r.current.State()
}

// Restarts returns how many times a replacement broker has been built.
func (r *Restarter) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.restarts
}

// Shutdown stops the current broker and prevents further respawns.
func (r *Restarter) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	current := r.current
	r.mu.Unlock()

	if current == nil {
		return nil
	}

	return current.Shutdown(ctx)
}

func (r *Restarter) acquire(ctx context.Context) (*broker.Broker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ErrWorkerUnavailable
	}

	if r.current == nil {
		return nil, errors.ErrNotStarted
	}

	if r.current.State() != worker.StateClosed {
		return r.current, nil
	}

	r.log.Warn("Worker exited, respawning")

	// Release anything the dead broker still holds.
	_ = r.current.Shutdown(ctx)

	b, err := r.spawnLocked(ctx)
	if err != nil {
		return nil, err
	}

	r.restarts++

	return b, nil
}

func (r *Restarter) spawnLocked(ctx context.Context) (*broker.Broker, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.policy.InitialInterval
	bo.MaxInterval = r.policy.MaxInterval
	bo.MaxElapsedTime = 0

	if bo.InitialInterval <= 0 {
		bo.InitialInterval = backoff.DefaultInitialInterval
	}

	if bo.MaxInterval <= 0 {
		bo.MaxInterval = backoff.DefaultMaxInterval
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.policy.MaxAttempts-1)), ctx)

	var b *broker.Broker

	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++

		next, err := r.factory(ctx)
		if err != nil {
			return err
		}

		b = next

		return nil
	}, policy, func(err error, wait time.Duration) {
		r.log.Warn("Worker spawn failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("spawn worker after %d attempt(s): %w", attempt, err)
	}

	r.current = b

	r.log.Info("Worker broker started", "attempt", attempt)

	return b, nil
}
