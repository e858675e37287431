// Package logger builds the process-wide structured logger. Diagnostics go
// to stderr; stdout is reserved for the operator prompts (endpoint selection,
// calibration references).
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a slog logger at the given level ("debug", "info", "warn",
// "error"; default "info") in the given format ("json" or "text"; default
// "json").
func New(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
