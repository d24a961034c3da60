// Package registry implements the table of in-flight requests awaiting a
// response from the worker.
//
// Each entry is keyed by a correlation id, carries a deadline, and owns a
// single-fulfilment Future. An entry is removed exactly once: by a matching
// response (Resolve), by an explicit rejection (Reject, RejectAll), or by its
// deadline timer. Whoever removes the entry is the only one allowed to
// fulfil its future.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wagiedev/ragbroker/internal/errors"
)

// Result is the outcome delivered to a Future.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is the caller-side handle of a pending request.
type Future[T any] struct {
	id          string
	submittedAt time.Time
	deadline    time.Time
	done        chan struct{}
	result      Result[T]
}

// ID returns the correlation id the future was registered under.
func (f *Future[T]) ID() string { return f.id }

// SubmittedAt returns when the entry was registered.
func (f *Future[T]) SubmittedAt() time.Time { return f.submittedAt }

// Deadline returns when the entry times out. Zero means no deadline.
func (f *Future[T]) Deadline() time.Time { return f.deadline }

// Done returns a channel that is closed once the future is fulfilled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the fulfilled result. It must only be called after Done is closed.
func (f *Future[T]) Result() Result[T] { return f.result }

// Wait blocks until the future is fulfilled or ctx is done.
// Context cancellation does not remove the entry; callers that give up must
// call Registry.Reject themselves.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// fulfil is called exactly once, by whoever removed the entry.
func (f *Future[T]) fulfil(r Result[T]) {
	f.result = r
	close(f.done)
}

type entry[T any] struct {
	future *Future[T]
	timer  *time.Timer
	seq    uint64
}

// Registry is a concurrency-safe table of pending requests.
type Registry[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	seq      uint64
	closed   bool
	closeErr error
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]*entry[T], 16),
	}
}

// Register creates a pending entry for id and arms its deadline timer.
//
// A timeout of zero or less registers an entry without a deadline.
// Register fails with ErrDuplicateID if id is already live, and with the
// RejectAll reason once the registry has been drained for shutdown.
func (r *Registry[T]) Register(id string, timeout time.Duration) (*Future[T], error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty correlation id", errors.ErrInvalidQuery)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, r.closeErr
	}

	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateID, id)
	}

	now := time.Now()

	r.seq++

	e := &entry[T]{
		future: &Future[T]{
			id:          id,
			submittedAt: now,
			done:        make(chan struct{}),
		},
		seq: r.seq,
	}

	if timeout > 0 {
		e.future.deadline = now.Add(timeout)
		e.timer = time.AfterFunc(timeout, func() {
			r.expire(id, e, timeout)
		})
	}

	r.entries[id] = e

	return e.future, nil
}

// Resolve fulfils the entry for id with value.
// It reports whether a live entry was found.
func (r *Registry[T]) Resolve(id string, value T) bool {
	e := r.remove(id)
	if e == nil {
		return false
	}

	e.future.fulfil(Result[T]{Value: value})

	return true
}

// Reject fulfils the entry for id with err.
// It reports whether a live entry was found.
func (r *Registry[T]) Reject(id string, err error) bool {
	e := r.remove(id)
	if e == nil {
		return false
	}

	e.future.fulfil(Result[T]{Err: err})

	return true
}

// RejectAll drains every entry, fulfilling each with err, and refuses any
// further registrations with the same error. It returns the number of
// entries rejected.
func (r *Registry[T]) RejectAll(err error) int {
	if err == nil {
		err = errors.ErrWorkerUnavailable
	}

	r.mu.Lock()

	r.closed = true
	if r.closeErr == nil {
		r.closeErr = err
	}

	drained := r.entries
	r.entries = make(map[string]*entry[T])

	r.mu.Unlock()

	for _, e := range drained {
		if e.timer != nil {
			e.timer.Stop()
		}

		e.future.fulfil(Result[T]{Err: err})
	}

	return len(drained)
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Oldest returns the id of the earliest registered live entry.
func (r *Registry[T]) Oldest() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		oldestID  string
		oldestSeq uint64
		found     bool
	)

	for id, e := range r.entries {
		if !found || e.seq < oldestSeq {
			oldestID, oldestSeq, found = id, e.seq, true
		}
	}

	return oldestID, found
}

// remove claims the entry for id and stops its timer.
func (r *Registry[T]) remove(id string) *entry[T] {
	r.mu.Lock()

	e, exists := r.entries[id]
	if exists {
		delete(r.entries, id)
	}

	r.mu.Unlock()

	if !exists {
		return nil
	}

	if e.timer != nil {
		e.timer.Stop()
	}

	return e
}

// expire runs on the timer goroutine. The entry is only claimed if it is
// still the one the timer was armed for.
func (r *Registry[T]) expire(id string, e *entry[T], after time.Duration) {
	r.mu.Lock()

	current, exists := r.entries[id]
	if !exists || current != e {
		r.mu.Unlock()

		return
	}

	delete(r.entries, id)
	r.mu.Unlock()

	e.future.fulfil(Result[T]{Err: &errors.TimeoutError{CorrelationID: id, After: after}})
}
