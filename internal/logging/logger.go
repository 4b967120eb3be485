package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format on stdout, development uses human-readable
// text. The level string ("debug", "info", "warn", "error") overrides the
// environment default; unknown values fall back to it.
func NewLogger(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: defaultLevel(env),
	}

	if lvl, ok := parseLevel(level); ok {
		opts.Level = lvl
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func defaultLevel(env string) slog.Level {
	if env == "production" {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
