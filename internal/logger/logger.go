// Package logger provides structured logging configuration using slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes and returns a configured slog.Logger with text handler.
func Setup(level string) *slog.Logger {
	return New(os.Stdout, level)
}

// New builds a text logger writing to w at the named level.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"; local parts of two characters or less are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}

	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}

	return "***@" + parts[1]
}

// Email returns a slog attribute carrying a redacted address.
func Email(email string) slog.Attr {
	return slog.String("email", RedactEmail(email))
}
