package ragbroker

import "log/slog"

// NopLogger returns a logger that discards all output.
// It is the default when no logger is configured.
func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
