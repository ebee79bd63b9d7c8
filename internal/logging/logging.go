// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
	File   string // optional path receiving a JSON copy of the stream
}

// Setup initializes the global slog logger based on configuration. The
// returned cleanup closes the log file when one was opened.
func Setup(cfg Config) func() error {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var stdout slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	default:
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	cleanup := func() error { return nil }

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.SetDefault(slog.New(stdout))
			slog.Error("failed to open log file, using stdout only", "error", err, "file", cfg.File)
			return cleanup
		}
		fileHandler := slog.NewJSONHandler(file, opts)
		slog.SetDefault(slog.New(slogmulti.Fanout(stdout, fileHandler)))
		return func() error { return file.Close() }
	}

	slog.SetDefault(slog.New(stdout))
	return cleanup
}

// parseLevel converts a string level to slog.Level.
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

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RunLogger creates a logger with export run context fields.
func RunLogger(runID, fileKey string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"file_key", fileKey,
	)
}

// WorkerLogger creates a logger with worker context.
func WorkerLogger(workerID int) *slog.Logger {
	return slog.With("worker_id", workerID)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
