// Package mcp exposes the broker as a Model Context Protocol tool server.
//
// A single ask_docs tool forwards a question to the worker and returns its
// answer and sources as text. The server is usually served over stdio so an
// MCP host can launch ragbroker as a subprocess.
package mcp
