// internal/logging/logger.go
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
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

// NewLogger creates a new structured logger
func NewLogger(format string, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// WithTrigger returns a logger with the trigger name attached
func WithTrigger(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("trigger", name)
}

// Setup builds the daemon logger. With a file path, output goes to stdout
// and to a RotatingWriter; the returned closer must be closed on exit.
func Setup(format, level, file string, maxSizeMB int) (*slog.Logger, io.Closer, error) {
	if file == "" {
		return NewLogger(format, level, os.Stdout), nopCloser{}, nil
	}
	rw, err := NewRotatingWriter(file, int64(maxSizeMB)*1024*1024)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(format, level, io.MultiWriter(os.Stdout, rw)), rw, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
