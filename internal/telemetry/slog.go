package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the global slog default logger from the logging
// configuration. format "json" selects machine-readable output for
// production; anything else falls back to the text handler for local
// development. Installing the default means no *slog.Logger has to be
// threaded through the services and handlers.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)
	slog.SetDefault(slog.New(newHandler(os.Stdout, format, lvl)))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// parseLevel maps a config string to a slog level, defaulting to info.
// Matching is case-insensitive and "warning" is accepted as an alias.
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

func newHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug, // file:line only when debugging
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
