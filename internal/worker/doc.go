// Package worker defines the lifecycle of a long-running worker process and
// the interface the broker uses to talk to it.
//
// A worker moves through three states:
//
//	Starting -> Ready -> Closed
//
// Starting -> Ready fires exactly once, when the readiness line is observed.
// Any state -> Closed fires on process exit or explicit shutdown and is
// terminal. There is no implicit respawn; restart policies wrap a fresh worker.
package worker
