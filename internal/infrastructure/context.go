package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Log records from one request or one background job share a trace id
// carried on the context. The RequestID middleware sets it for HTTP
// traffic; queue workers call EnsureTraceID per job.

type traceKey struct{}

// WithTraceID returns ctx carrying traceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// GetTraceID returns the trace id on ctx, or "" when there is none
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// EnsureTraceID keeps an existing trace id and otherwise mints one
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, uuid.NewString())
}

func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError adds err to every record; a nil err leaves logger as is
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}
