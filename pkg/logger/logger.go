// Package logger builds the engine's slog-based structured logger and
// carries the correlation id through context so every log line emitted
// while serving a request can be tied back to it.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

// correlationIDKey is the context key the correlation id travels under.
// The HTTP surface assigns the id; everything below it reads the id
// through CorrelationID/FromContext.
const correlationIDKey contextKey = "correlation_id"

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string // json | text
	Output     string // stdout | stderr | file
	Filename   string
	MaxSize    int // megabytes, file output only
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewLogger creates a structured logger: JSON in production, text for
// development, with lumberjack rotation when file output is configured.
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(SetupWriter(cfg), opts)
	} else {
		handler = slog.NewTextHandler(SetupWriter(cfg), opts)
	}
	return slog.New(handler)
}

// ParseLevel parses a string log level to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SetupWriter selects the output writer. File output without a filename
// falls back to stdout rather than failing startup over a log path.
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// WithCorrelationID stores a request's correlation id in the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID extracts the correlation id from the context, or ""
// when none was assigned.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns a logger annotated with the context's correlation
// id, so request-scoped log lines correlate with the response envelope.
func FromContext(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return log.With("correlation_id", id)
	}
	return log
}
