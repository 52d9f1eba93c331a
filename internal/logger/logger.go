// Package logger provides the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var global *slog.Logger

// Init configures the global logger. Call once during startup, before any
// goroutine that logs is started.
func Init(level, format string) {
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

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	global = slog.New(handler)
	slog.SetDefault(global)
}

// L returns the global logger, falling back to slog's default if Init was
// never called (useful in tests).
func L() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}
