package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	if v := stringValue(ctx, taskCtxKey{}); v != "" {
		fields = append(fields, zap.String("task.id", v))
	}
	if v := stringValue(ctx, actorCtxKey{}); v != "" {
		fields = append(fields, zap.String("actor", v))
	}
	if v := stringValue(ctx, sweepCtxKey{}); v != "" {
		fields = append(fields, zap.String("sweep.id", v))
	}
	return fields
}

type (
	requestCtxKey struct{}
	taskCtxKey    struct{}
	actorCtxKey   struct{}
	sweepCtxKey   struct{}
	loggerCtxKey  struct{}
)

func stringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithRequestID adds the inbound request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithTaskID tags the context with the task being operated on.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, id)
}

// WithActor tags the context with the acting user's email.
func WithActor(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, email)
}

// WithSweepID tags the context with a reminder sweep run.
func WithSweepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sweepCtxKey{}, id)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
