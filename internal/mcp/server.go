package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/ragbroker/internal/protocol"
)

// AskToolName is the name of the question tool.
const AskToolName = "ask_docs"

// Querier is the broker surface the tool server depends on.
type Querier interface {
	Submit(ctx context.Context, question string, topK int, timeout time.Duration) (*protocol.Response, error)
}

// AskInput is the argument object of the ask_docs tool.
type AskInput struct {
	Question  string `json:"question"`
	TopK      int    `json:"topK,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}

// Server wraps an MCP server carrying the ask_docs tool.
type Server struct {
	server  *mcp.Server
	querier Querier
	log     *slog.Logger
}

// NewServer creates a tool server answering through querier.
func NewServer(name, version string, querier Querier, log *slog.Logger) *Server {
	s := &Server{
		server:  mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		querier: querier,
		log:     log.With("component", "mcp"),
	}

	mcp.AddTool(s.server, NewTool(
		AskToolName,
		"Answer a question from the indexed documentation. Returns the answer followed by its sources.",
		askSchema(),
	), s.ask)

	return s
}

// Run serves the tool over the given transport until the client disconnects
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.log.Info("MCP server running")

	if err := s.server.Run(ctx, transport); err != nil {
		return fmt.Errorf("run MCP server: %w", err)
	}

	return nil
}

// RunStdio serves the tool over the process's stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

func (s *Server) ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Question) == "" {
		return ErrorResult("question must not be empty"), nil, nil
	}

	timeout := time.Duration(in.TimeoutMS) * time.Millisecond

	resp, err := s.querier.Submit(ctx, in.Question, in.TopK, timeout)
	if err != nil {
		s.log.Warn("ask_docs failed", "error", err)

		return ErrorResult("Query failed: " + err.Error()), nil, nil
	}

	return TextResult(resp.Text()), nil, nil
}

func askSchema() *jsonschema.Schema {
	minLen := 1
	minTopK := 1.0
	minTimeout := 0.0

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"question": {
				Type:        "string",
				Description: "The question to answer",
				MinLength:   &minLen,
			},
			"topK": {
				Type:        "integer",
				Description: "Number of passages to retrieve",
				Minimum:     &minTopK,
			},
			"timeoutMs": {
				Type:        "integer",
				Description: "Request timeout in milliseconds",
				Minimum:     &minTimeout,
			},
		},
		Required: []string{"question"},
	}
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// NewTool creates an mcp.Tool with the given parameters.
func NewTool(name, description string, inputSchema *jsonschema.Schema) *mcp.Tool {
	return &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}
}
