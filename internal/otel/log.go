package otel

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// SpanContextFrom returns the OTel trace_id and span_id from the span in ctx,
// if any. Use with zerolog to correlate logs with spans.
func SpanContextFrom(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", ""
	}
	return span.SpanContext().TraceID().String(), span.SpanContext().SpanID().String()
}

// LogSpanFields returns a zerolog Func hook that adds otel_trace_id and
// otel_span_id to the event when a valid span exists in ctx. The fields are
// prefixed to avoid colliding with the pipeline's own trace_id. Use with:
//
//	log.Info().Str("trace_id", id).Func(otel.LogSpanFields(ctx)).Msg("...")
func LogSpanFields(ctx context.Context) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		traceID, spanID := SpanContextFrom(ctx)
		if traceID != "" {
			e.Str("otel_trace_id", traceID)
		}
		if spanID != "" {
			e.Str("otel_span_id", spanID)
		}
	}
}
