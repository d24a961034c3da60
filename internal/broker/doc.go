// Package broker multiplexes concurrent questions onto a single long-running
// worker process.
//
// A Broker owns one worker for its whole life. It gates submissions on the
// worker's readiness line, tags every query with a correlation id, routes
// each response line back to the caller that sent the matching query, and
// enforces a per-request deadline. When the worker exits, every pending
// caller is failed with ErrWorkerUnavailable exactly once; the broker is not
// reused after that.
package broker
