package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing to stdout.
// Unknown levels fall back to INFO; unknown formats fall back to JSON.
func Setup(level, format string) {
	SetupTo(os.Stdout, level, format)
}

// SetupTo is Setup with an explicit destination. Worker processes log to
// stderr because stdout carries the protocol.
func SetupTo(w io.Writer, level, format string) {
	once.Do(func() {
		logger = newLogger(w, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config level string to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithEvent returns a logger with the event_id and event_kind fields set.
func WithEvent(id, kind string) *slog.Logger {
	return Get().With(slog.String("event_id", id), slog.String("event_kind", kind))
}

// WithWorker returns a logger with the worker entrypoint name set.
func WithWorker(name string) *slog.Logger {
	return Get().With(slog.String("worker", name))
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
