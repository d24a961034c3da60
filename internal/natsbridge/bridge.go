// Package natsbridge answers questions received as NATS requests.
//
// The bridge queue-subscribes to a subject so several broker instances can
// share the load, decodes each request body, submits it to the broker and
// replies on the message's reply subject.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wagiedev/ragbroker/internal/metrics"
	"github.com/wagiedev/ragbroker/internal/protocol"
)

// drainTimeout bounds the wait for queued messages on shutdown.
const drainTimeout = 10 * time.Second

// Querier is the broker surface the bridge depends on.
type Querier interface {
	Submit(ctx context.Context, question string, topK int, timeout time.Duration) (*protocol.Response, error)
}

// Config configures the bridge.
type Config struct {
	URL     string
	Subject string
	Queue   string

	// MaxTimeout caps the per-request timeout a requester may ask for.
	MaxTimeout time.Duration
}

// Request is the body of a NATS question.
type Request struct {
	Question  string `json:"question"`
	TopK      int    `json:"topK,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}

// Reply is the body sent back to the requester.
type Reply struct {
	Response *protocol.Response `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
	Code     string             `json:"code,omitempty"`
}

// Bridge connects a broker to a NATS subject.
type Bridge struct {
	cfg     Config
	querier Querier
	log     *slog.Logger
	wg      sync.WaitGroup
}

// New creates a bridge. Nothing connects until Start.
func New(cfg Config, querier Querier, log *slog.Logger) *Bridge {
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 5 * time.Minute
	}

	return &Bridge{
		cfg:     cfg,
		querier: querier,
		log:     log.With("component", "natsbridge"),
	}
}

// Start connects, subscribes and serves until ctx is cancelled. In-flight
// requests are answered before it returns.
func (b *Bridge) Start(ctx context.Context) error {
	nc, err := nats.Connect(b.cfg.URL,
		nats.Name("ragbroker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.log.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := nc.QueueSubscribe(b.cfg.Subject, b.cfg.Queue, func(msg *nats.Msg) {
		b.wg.Go(func() { b.serve(ctx, msg) })
	})
	if err != nil {
		nc.Close()

		return fmt.Errorf("subscribe to %s: %w", b.cfg.Subject, err)
	}

	b.log.Info("NATS bridge listening", "subject", b.cfg.Subject, "queue", b.cfg.Queue)

	<-ctx.Done()

	b.log.Info("NATS bridge shutting down")

	if err := sub.Drain(); err != nil {
		b.log.Warn("Failed to drain subscription", "error", err)
	}

	// No handler may start once the subscription is gone, so the wait below
	// cannot race with wg.Go.
	waitDrained(sub, drainTimeout)
	b.wg.Wait()

	if err := nc.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}

	return nil
}

func waitDrained(sub *nats.Subscription, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (b *Bridge) serve(ctx context.Context, msg *nats.Msg) {
	if msg.Reply == "" {
		b.log.Debug("Ignoring question without reply subject", "subject", msg.Subject)

		return
	}

	if err := msg.Respond(b.Handle(context.WithoutCancel(ctx), msg.Data)); err != nil {
		b.log.Warn("Failed to send NATS reply", "error", err)
	}
}

// Handle answers one encoded request and returns the encoded reply.
func (b *Bridge) Handle(ctx context.Context, data []byte) []byte {
	var req Request

	if err := json.Unmarshal(data, &req); err != nil {
		return encodeReply(&Reply{Error: "invalid JSON body", Code: metrics.OutcomeInvalid})
	}

	timeout := min(time.Duration(req.TimeoutMS)*time.Millisecond, b.cfg.MaxTimeout)

	resp, err := b.querier.Submit(ctx, req.Question, req.TopK, timeout)
	if err != nil {
		return encodeReply(&Reply{Error: err.Error(), Code: metrics.Outcome(err)})
	}

	return encodeReply(&Reply{Response: resp})
}

func encodeReply(r *Reply) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"error":"encode reply","code":"error"}`)
	}

	return data
}
