// Package logger wires the process-wide slog logger for the export
// service: JSON records by default, text for local runs, and the
// correlation id attached automatically from the request context.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Options selects the level and output format.
type Options struct {
	Level   string // debug, info, warn, error
	Console bool   // human-readable text output for local runs
}

// Setup installs the configured handler as the slog default. Every
// subsequent slog call in the process goes through it.
func Setup(opts Options) {
	handlerOpts := &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: true,
	}

	var handler slog.Handler
	if opts.Console {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}

	// Correlation id rides the context; the wrapper copies it onto
	// every record.
	handler = NewCorrelationHandler(handler)

	slog.SetDefault(slog.New(handler))
}

// parseLevel falls back to info for unknown level names.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
