package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger interface {
	Info(msg string, keyvals ...interface{})

	Warn(msg string, keyvals ...interface{})

	Error(msg string, keyvals ...interface{})

	Debug(msg string, keyvals ...interface{})
}

type Options struct {
	Level string
	// File, when set, receives a copy of every record in addition to stderr.
	File string
}

// NewWithOptions builds the process logger. The returned closer releases the log file.
func NewWithOptions(options Options) (Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if len(options.File) > 0 {
		file, err := os.OpenFile(options.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", options.File, err)
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(options.Level),
		AddSource: true,
	}

	return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
}

// NewDiscard returns a logger that drops everything.
func NewDiscard() Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
