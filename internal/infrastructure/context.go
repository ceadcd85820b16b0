package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// WithTraceID returns ctx carrying traceID for log correlation
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GetTraceID returns the trace id carried by ctx, or ""
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// EnsureTraceID gives ctx a fresh trace id unless it already has one.
// Background jobs (refresher, reaper) call this once per run so every log
// line of that run correlates.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		return WithTraceID(ctx, uuid.NewString())
	}
	return ctx
}

// WithComponent tags logger with a component name. A nil logger falls back
// to the slog default.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", component))
}

// MaskLicenseKey hides all but the first and last four characters of a key
// so it can be logged safely
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
