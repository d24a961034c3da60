package protocol

// CommandExit asks the worker to exit cleanly.
const CommandExit = "exit"

// StatusReady is the status value of the one-time readiness line.
const StatusReady = "ready"

// StatusError marks a response as a structured application error.
const StatusError = "error"

// Query is one question sent to the worker.
//
// Wire format:
//
//	{"correlationId":"01J9Z...-1","question":"What is X?","topK":3}
type Query struct {
	// CorrelationID is echoed by the worker to match the response.
	// It is omitted for workers running in serial correlation mode.
	CorrelationID string `json:"correlationId,omitempty"`

	// Question is the natural-language question.
	Question string `json:"question"`

	// TopK is the number of supporting sources requested.
	TopK int `json:"topK"`
}

// Command is a control line sent to the worker.
//
// Wire format:
//
//	{"command":"exit"}
type Command struct {
	Command string `json:"command"`
}

// Source is one supporting document returned with an answer.
type Source struct {
	URL     string  `json:"url"`
	Title   string  `json:"title,omitempty"`
	Section string  `json:"section,omitempty"`
	Score   float64 `json:"score"`
}

// Response is the worker's answer to a Query.
//
// Only CorrelationID is interpreted by the broker; the remaining fields are
// application-defined and passed through to the caller.
type Response struct {
	CorrelationID string   `json:"correlationId,omitempty"`
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources,omitempty"`
	HasResults    bool     `json:"hasResults"`
	Suggestions   []string `json:"suggestions,omitempty"`

	// Status and Error carry a structured application error, if any.
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// Raw is the full decoded object, including fields not modelled above.
	Raw map[string]any `json:"-"`
}

// IsError reports whether the worker returned a structured error payload.
func (r *Response) IsError() bool {
	return r.Error != "" || r.Status == StatusError
}

// ErrorMessage returns the worker's error message, falling back to a
// generic description when only the status is set.
func (r *Response) ErrorMessage() string {
	if r.Error != "" {
		return r.Error
	}

	if r.Status == StatusError {
		return "worker reported an error without a message"
	}

	return ""
}
