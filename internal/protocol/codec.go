package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/wagiedev/ragbroker/internal/errors"
)

// Kind classifies an inbound line.
type Kind int

const (
	// KindUnknown is a JSON object that is neither readiness nor a response.
	KindUnknown Kind = iota
	// KindReady is the one-time readiness signal.
	KindReady
	// KindResponse is an answer (or application error) to a query.
	KindResponse
)

// String returns the name of the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Envelope is a decoded inbound line.
type Envelope struct {
	Kind     Kind
	Response *Response
	Raw      map[string]any
}

// responseKeys are the fields whose presence marks an object as a response.
var responseKeys = []string{"correlationId", "answer", "sources", "hasResults", "error"}

// Decode parses one line from the worker's stdout.
//
// A line that is not a JSON object yields a *errors.LineDecodeError. The
// readiness object is recognized by "status":"ready" with no correlation id.
func Decode(line []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(line)

	var raw map[string]any

	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &errors.LineDecodeError{RawData: string(line), Err: err}
	}

	if raw == nil {
		return nil, &errors.LineDecodeError{RawData: string(line), Err: fmt.Errorf("not a JSON object")}
	}

	status, _ := raw["status"].(string)
	_, hasID := raw["correlationId"]

	if status == StatusReady && !hasID {
		return &Envelope{Kind: KindReady, Raw: raw}, nil
	}

	if !hasAnyKey(raw, responseKeys) && status != StatusError {
		return &Envelope{Kind: KindUnknown, Raw: raw}, nil
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		// The object decoded as a map but a known field has the wrong type.
		return nil, &errors.LineDecodeError{RawData: string(line), Err: err}
	}

	resp.Raw = raw

	return &Envelope{Kind: KindResponse, Response: &resp, Raw: raw}, nil
}

// EncodeQuery serializes q as one newline-terminated line.
func EncodeQuery(q *Query) ([]byte, error) {
	return encodeLine(q)
}

// EncodeCommand serializes a control command as one newline-terminated line.
func EncodeCommand(command string) ([]byte, error) {
	return encodeLine(&Command{Command: command})
}

// encodeLine marshals v and appends a newline. encoding/json escapes control
// characters inside strings, so the result never contains an inner newline.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal line: %w", err)
	}

	return append(data, '\n'), nil
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}

	return false
}
