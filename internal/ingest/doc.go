// Package ingest triggers the batch scripts that build the worker's index.
//
// Jobs are named one-shot processes (crawl, clean, index, ...) taken from
// configuration. Trigger acknowledges immediately with a job id and runs the
// process in the background; its outcome is only success or failure. Output
// is kept best-effort as a bounded tail of lines.
//
// Timeouts use the same escalation as the worker: SIGTERM, a grace period,
// then SIGKILL.
package ingest
