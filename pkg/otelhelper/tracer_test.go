package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "activity.execute", attribute.String(ActivityIDKey, "a1"))
	SetError(span, errors.New("boom"), attribute.String(InstanceIDKey, "i1"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "activity.execute", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(ActivityIDKey, "a1"))
}

func TestNoopTracer(t *testing.T) {
	_, span := StartSpan(context.Background(), NoopTracer(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
}
