package ingest

import (
	"sync"

	"github.com/wagiedev/ragbroker/internal/framer"
)

// maxOutputLines is how many trailing output lines a run keeps.
const maxOutputLines = 200

// tailWriter keeps the last maxOutputLines complete lines written to it.
// Stdout and stderr share one writer, so writes are serialized.
type tailWriter struct {
	mu    sync.Mutex
	f     *framer.Framer
	lines []string
}

func newTailWriter() *tailWriter {
	return &tailWriter{f: framer.New()}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lines = append(w.lines, w.f.Feed(p)...)

	if over := len(w.lines) - maxOutputLines; over > 0 {
		w.lines = append(w.lines[:0:0], w.lines[over:]...)
	}

	return len(p), nil
}

// Lines returns a copy of the retained lines, plus any trailing partial line.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.lines)+1)
	out = append(out, w.lines...)

	if rest := w.f.Remainder(); len(rest) > 0 {
		out = append(out, string(rest))
	}

	return out
}
