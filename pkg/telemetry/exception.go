package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanExceptionTracker records errors as exception events on the active span
// and logs them at warn level.
type SpanExceptionTracker struct {
	logger *slog.Logger
}

// NewSpanExceptionTracker creates a tracker. A nil logger uses slog.Default.
func NewSpanExceptionTracker(logger *slog.Logger) *SpanExceptionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpanExceptionTracker{logger: logger}
}

// TraceException reports err. Nil errors are ignored.
func (t *SpanExceptionTracker) TraceException(ctx context.Context, err error) {
	if err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs := []any{"error", err}
	if id := TraceIDFromContext(ctx); id != "" {
		attrs = append(attrs, "trace_id", id)
	}
	t.logger.WarnContext(ctx, "exception", attrs...)
}
