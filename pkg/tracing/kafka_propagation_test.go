package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "produce")
	defer span.End()

	tp0 := Traceparent(ctx)
	require.NotEmpty(t, tp0)
	headers := []kafka.Header{{Key: "event_type", Value: []byte("SaleCompleted")}, {Key: TraceparentHeader, Value: []byte(tp0)}}
	assert.Equal(t, tp0, HeaderValue(headers, TraceparentHeader))

	extracted := ExtractKafkaHeaders(context.Background(), headers)
	got := trace.SpanContextFromContext(extracted)
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), got.SpanID())
}

func TestTraceparentWithoutSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	assert.Empty(t, Traceparent(context.Background()))
	assert.Empty(t, HeaderValue([]kafka.Header{{Key: "a", Value: []byte("b")}}, TraceparentHeader))
}
