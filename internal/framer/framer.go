// Package framer turns a raw byte stream into complete newline-terminated lines.
package framer

import "bytes"

// Framer accumulates chunks read from a stream and emits complete lines.
//
// Content after the last newline is retained until a later chunk completes
// it. Framer is protocol-agnostic: empty lines are emitted as-is and a
// trailing carriage return is not stripped.
//
// A Framer is not safe for concurrent use; it is owned by a single reader.
type Framer struct {
	buf []byte
}

// New creates an empty framer.
func New() *Framer {
	return &Framer{}
}

// Feed appends chunk to the internal buffer and returns every line that is
// now complete, without its terminating newline.
func (f *Framer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	f.buf = append(f.buf, chunk...)

	var lines []string

	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}

		lines = append(lines, string(f.buf[:idx]))
		f.buf = f.buf[idx+1:]
	}

	// Compact so the backing array does not grow without bound across chunks.
	if len(f.buf) == 0 {
		f.buf = f.buf[:0:0]
	} else if cap(f.buf) > 2*len(f.buf)+4096 {
		f.buf = append([]byte(nil), f.buf...)
	}

	return lines
}

// Buffered returns the number of bytes held back as a partial line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Remainder returns a copy of the partial line held back, if any.
func (f *Framer) Remainder() []byte {
	if len(f.buf) == 0 {
		return nil
	}

	return bytes.Clone(f.buf)
}
