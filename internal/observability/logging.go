package observability

import (
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger with a component field attached.
func NewLogger(component string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// WithSession tags every log line with the session label so merged
// multi-device output stays distinguishable.
func WithSession(logger *slog.Logger, session string) *slog.Logger {
	if logger == nil || session == "" {
		return logger
	}
	return logger.With("session", session)
}

func WithAttempt(logger *slog.Logger, attempt int) *slog.Logger {
	if logger == nil || attempt <= 0 {
		return logger
	}
	return logger.With("attempt", attempt)
}
