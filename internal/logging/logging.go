// Package logging builds the slog loggers used across threadpool.
//
// Every component logs through a child logger tagged with its name
// (logger.With("component", "scheduler")). A filter string selects the
// verbosity globally and per component, see ParseFilter.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

const (
	// LevelTrace is the most verbose level, below slog.LevelDebug.
	LevelTrace = slog.LevelDebug - 4
	// LevelOff disables a component entirely.
	LevelOff = slog.Level(1 << 20)
)

// NewLoggerWithWriter creates a logger without component filtering.
// format is "text" (human-readable) or "json" (structured). Commands use
// Setup instead; this is for tests and embedding.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	return slog.New(newHandler(w, format, level))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

func lookupLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "off":
		return LevelOff, true
	default:
		return 0, false
	}
}
