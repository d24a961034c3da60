// Package ragbroker runs a documentation question-answering worker as a
// long-lived subprocess and lets many goroutines query it at once.
//
// The worker is started once and speaks newline-delimited JSON over its
// standard streams. It announces readiness with {"status":"ready"}, receives
// one query object per line and answers each with an object echoing the
// query's correlationId. The broker gates questions on readiness, matches
// answers to callers by correlation id, enforces per-question timeouts and
// stops the worker cooperatively on shutdown.
//
// # Basic Usage
//
//	b, err := ragbroker.New(
//	    ragbroker.WithCommand("python3"),
//	    ragbroker.WithArgs("-m", "docs_rag.worker"),
//	    ragbroker.WithDataDir("/srv/rag"),
//	    ragbroker.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Shutdown(context.Background())
//
//	resp, err := b.Submit(ctx, "How do I configure TLS?", 0, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println(resp.Answer)
//
// # Errors
//
// Submit returns sentinel and structured errors that can be inspected with
// errors.Is and errors.As:
//
//	switch {
//	case errors.Is(err, ragbroker.ErrWorkerUnavailable):
//	    // the worker exited; build a new broker
//	case errors.Is(err, ragbroker.ErrTimeout):
//	    // no answer before the deadline; the worker is still usable
//	}
//
//	var appErr *ragbroker.ApplicationError
//	if errors.As(err, &appErr) {
//	    fmt.Println("worker said:", appErr.Message)
//	}
//
// # Workers Without Correlation Ids
//
// Workers that cannot echo correlationId can run with
// WithCorrelationMode(CorrelationSerial). Only one question is then in
// flight at a time and further callers fail fast with ErrWorkerBusy.
package ragbroker
