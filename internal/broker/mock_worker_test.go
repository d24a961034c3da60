package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/ragbroker/internal/protocol"
	"github.com/wagiedev/ragbroker/internal/worker"
)

// mockWorker is a hand-written worker.Worker that records writes and lets
// tests play the worker's side of the conversation.
type mockWorker struct {
	*worker.Lifecycle

	mu       sync.Mutex
	onLine   worker.LineHandler
	startErr error
	sendErr  error

	sent chan []byte

	exitOnCommand   bool
	exitOnTerminate bool
	exitOnKill      bool

	terminated atomic.Int32
	killed     atomic.Int32
}

var _ worker.Worker = (*mockWorker)(nil)

func newMockWorker() *mockWorker {
	return &mockWorker{
		Lifecycle:       worker.NewLifecycle(),
		sent:            make(chan []byte, 64),
		exitOnCommand:   true,
		exitOnTerminate: true,
		exitOnKill:      true,
	}
}

func (m *mockWorker) Start(_ context.Context, onLine worker.LineHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}

	m.onLine = onLine

	return nil
}

func (m *mockWorker) SendLine(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	sendErr := m.sendErr
	m.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}

	m.sent <- bytes.Clone(data)

	if m.exitOnCommand && bytes.Contains(data, []byte(`"command":"exit"`)) {
		go m.MarkClosed(nil)
	}

	return nil
}

func (m *mockWorker) Terminate() error {
	m.terminated.Add(1)

	if m.exitOnTerminate {
		m.MarkClosed(nil)
	}

	return nil
}

func (m *mockWorker) Kill() error {
	m.killed.Add(1)

	if m.exitOnKill {
		m.MarkClosed(nil)
	}

	return nil
}

// emit delivers a line as if the worker had written it to stdout.
func (m *mockWorker) emit(line string) {
	m.mu.Lock()
	onLine := m.onLine
	m.mu.Unlock()

	onLine([]byte(line))
}

func (m *mockWorker) ready() {
	m.emit(`{"status":"ready"}`)
}

// nextQuery returns the next query written by the broker.
func (m *mockWorker) nextQuery(t *testing.T) protocol.Query {
	t.Helper()

	select {
	case data := <-m.sent:
		require.Equal(t, byte('\n'), data[len(data)-1], "every write is one newline-terminated line")

		var q protocol.Query
		require.NoError(t, json.Unmarshal(data, &q))

		return q
	case <-time.After(5 * time.Second):
		t.Fatal("no query written to the worker")

		return protocol.Query{}
	}
}

// answer emits a successful response for id.
func (m *mockWorker) answer(t *testing.T, id, answer string) {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"correlationId": id,
		"answer":        answer,
		"hasResults":    true,
		"sources":       []map[string]any{{"url": "https://docs.example/" + answer, "score": 0.9}},
	})
	require.NoError(t, err)

	m.emit(string(data))
}
