// Package logging provides structured logging configuration using log/slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format when the output feeds a log pipeline and "text"
// for reading runs at a terminal. Logs go to stderr so run summaries
// on stdout stay pipeable.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a logger carrying additional structured fields,
// useful for per-run loggers that tag every entry with the same run
// context.
//
// Usage:
//
//	runLogger := logging.WithFields("file", path, "trade", tradeName)
//	runLogger.Info("import started")
func WithFields(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}
