package worker

import (
	"sync"
)

// Lifecycle tracks the state machine of a single worker process and
// broadcasts its transitions.
//
// The zero value is not usable; create one with NewLifecycle.
type Lifecycle struct {
	mu           sync.Mutex
	state        State
	err          error
	ready        chan struct{}
	closed       chan struct{}
	exitHandlers []func(error)
}

// NewLifecycle creates a lifecycle in the Starting state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		state:  StateStarting,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Ready returns a channel that is closed on the Starting -> Ready transition.
// It is never closed if the worker goes straight to Closed.
func (l *Lifecycle) Ready() <-chan struct{} {
	return l.ready
}

// Closed returns a channel that is closed on the transition to Closed.
func (l *Lifecycle) Closed() <-chan struct{} {
	return l.closed
}

// Err returns the cause recorded by MarkClosed. It is nil for a clean exit
// or while the worker is still running.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

// MarkReady performs the Starting -> Ready transition.
// It reports false if the worker was not in Starting.
func (l *Lifecycle) MarkReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateStarting {
		return false
	}

	l.state = StateReady
	close(l.ready)

	return true
}

// MarkClosed moves the worker to Closed and invokes every registered exit
// handler exactly once with err. It reports false if already closed.
func (l *Lifecycle) MarkClosed(err error) bool {
	l.mu.Lock()

	if l.state == StateClosed {
		l.mu.Unlock()

		return false
	}

	l.state = StateClosed
	l.err = err
	close(l.closed)

	handlers := l.exitHandlers
	l.exitHandlers = nil

	l.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}

	return true
}

// OnExit registers a handler invoked once when the worker closes.
// A handler registered after the worker already closed runs immediately.
func (l *Lifecycle) OnExit(handler func(error)) {
	if handler == nil {
		return
	}

	l.mu.Lock()

	if l.state == StateClosed {
		err := l.err
		l.mu.Unlock()

		handler(err)

		return
	}

	l.exitHandlers = append(l.exitHandlers, handler)
	l.mu.Unlock()
}
