// Package log configures the process-wide slog default used by every
// closewise binary.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Level is one of debug, info, warn,
// error; anything else falls back to info. LOG_FORMAT=json switches the
// handler to JSON output for deployed environments.
func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithModule returns the default logger scoped to one closewise module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
