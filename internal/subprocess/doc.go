// Package subprocess supervises the worker as a child process.
//
// The Supervisor spawns the worker once, drains its stdout through a line
// framer on a single reader goroutine, surfaces stderr for diagnostics, and
// serializes writes to stdin so that concurrent callers never interleave
// partial lines. Exit of the process, for any reason, moves the supervisor
// to the Closed state and notifies every registered exit handler once.
package subprocess
