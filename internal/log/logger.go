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

// Setup initializes the global logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	SetupWriter(level, os.Stdout)
}

// SetupWriter is Setup with an explicit destination. Only the first call wins.
func SetupWriter(level string, w io.Writer) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		handler := slog.NewJSONHandler(w, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config level name onto a slog level.
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
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithInstance returns a logger with the instance field set.
// The instance is the name a device UI process is registered under on the hub.
func WithInstance(name string) *slog.Logger {
	return Get().With(slog.String("instance", name))
}

// WithCommand returns base with the hub endpoint and command fields set.
// A nil base uses the global logger.
func WithCommand(base *slog.Logger, endpoint, command string) *slog.Logger {
	if base == nil {
		base = Get()
	}
	return base.With(slog.String("endpoint", endpoint), slog.String("command", command))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
