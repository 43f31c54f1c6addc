package logging

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// New creates the process logger. Format "text" writes human-readable
// lines to stderr, "json" writes machine-readable lines to stdout, and
// "auto" picks based on whether stderr is a terminal.
func New(level slog.Level, format string) *slog.Logger {
	switch format {
	case "text":
		return textLogger(level)
	case "json":
		return jsonLogger(level)
	default:
		if isatty.IsTerminal(os.Stderr.Fd()) {
			return textLogger(level)
		}
		return jsonLogger(level)
	}
}

func textLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func jsonLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
