package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New creates a structured text logger writing to stderr, and additionally
// to logFile when one is given. The returned close function releases the
// log file and is safe to call when no file was opened.
func New(app, level, logFile string) (*slog.Logger, func() error, error) {
	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}

	return NewWithWriter(w, app, level), closeFn, nil
}

// NewWithWriter creates a structured text logger on w.
// level: one of "debug", "info", "warn", "error" (default: "info")
func NewWithWriter(w io.Writer, app, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
