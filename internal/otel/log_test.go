package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func spanContext() trace.SpanContext {
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:  trace.SpanID{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
	})
}

func TestSpanContextFrom(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		traceID, spanID := SpanContextFrom(context.Background())
		assert.Empty(t, traceID)
		assert.Empty(t, spanID)
	})

	t.Run("valid span", func(t *testing.T) {
		sc := spanContext()
		ctx := trace.ContextWithSpanContext(context.Background(), sc)
		traceID, spanID := SpanContextFrom(ctx)
		assert.Equal(t, sc.TraceID().String(), traceID)
		assert.Equal(t, sc.SpanID().String(), spanID)
	})
}

func TestLogSpanFields(t *testing.T) {
	t.Run("adds span fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		ctx := trace.ContextWithSpanContext(context.Background(), spanContext())
		logger.Info().Func(LogSpanFields(ctx)).Msg("dispatch_failed")

		out := buf.String()
		assert.Contains(t, out, `"otel_trace_id":"0102030405060708090a0b0c0d0e0f10"`)
		assert.Contains(t, out, `"otel_span_id":"1112131415161718"`)
	})

	t.Run("silent without span", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		logger.Info().Func(LogSpanFields(context.Background())).Msg("dispatch_failed")

		out := buf.String()
		assert.NotContains(t, out, "otel_trace_id")
		assert.NotContains(t, out, "otel_span_id")
	})
}
