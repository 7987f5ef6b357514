// Package logger builds the structured logger shared by the binaries and
// carries the request correlation id through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/partner-wallet-ledger/internal/config"
)

type correlationKey struct{}

// NewLogger writes JSON lines to stdout at the configured level. Debug
// logging also records the call site.
func NewLogger(cfg *config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := ParseLevel(cfg.Logging.Level)
	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
	if cfg.Application.Name != "" {
		log = log.With("service", cfg.Application.Name, "env", cfg.Application.Env)
	}
	log.Debug("Logger ready", "level", level.String())
	return log
}

// ParseLevel accepts slog level names in any case and falls back to info
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID or ""
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// FromContext tags base with the correlation id carried by ctx
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return base.With("correlation_id", id)
	}
	return base
}
