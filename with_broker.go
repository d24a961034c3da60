package ragbroker

import (
	"context"
	"fmt"
	"time"
)

// shutdownTimeout bounds the Shutdown call made by WithBroker.
const shutdownTimeout = 30 * time.Second

// WithBroker manages broker lifecycle with automatic cleanup.
//
// It creates and starts a broker, runs fn, and shuts the broker down when fn
// returns. If fn returns an error it is returned to the caller; a shutdown
// failure is logged and does not override it.
//
// Example usage:
//
//	err := ragbroker.WithBroker(ctx, func(b ragbroker.Broker) error {
//	    resp, err := b.Submit(ctx, "How do I rotate keys?", 0, 0)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(resp.Answer)
//	    return nil
//	},
//	    ragbroker.WithCommand("./worker.py"),
//	    ragbroker.WithLogger(log),
//	)
func WithBroker(ctx context.Context, fn func(Broker) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	b, err := New(opts...)
	if err != nil {
		return err
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := b.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shut down broker", "error", err)
		}
	}()

	return fn(b)
}
