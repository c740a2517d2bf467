package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/metrics"
	"github.com/novotx/elsa-core/pkg/mocks"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/otelhelper"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/novotx/elsa-core/pkg/workflow/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type panicking struct{}

func (panicking) ID() string   { return "panics" }
func (panicking) Type() string { return "Panic" }

func (panicking) Execute(context.Context, *workflow.ActivityExecutionContext) error {
	panic("kaboom")
}

func run(t *testing.T, root workflow.Activity, mws ...workflow.Middleware) *workflow.WorkflowExecutionContext {
	t.Helper()

	wf, err := workflow.NewWorkflow(&models.WorkflowDefinition{ID: "v1", DefinitionID: "def-1", Version: 1}, root)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := workflow.NewExecutor(workflow.NewInvoker(mws...), &identity.SequenceGenerator{}, bookmarks.NewHasher(), logger)

	wctx, err := executor.Start(t.Context(), wf, workflow.StartOptions{InstanceID: "inst-1"})
	require.NoError(t, err)

	return wctx
}

func TestChain_Order(t *testing.T) {
	var calls []string

	record := func(name string) workflow.Middleware {
		return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
			calls = append(calls, name+">")
			err := next(ctx, actx)
			calls = append(calls, "<"+name)

			return err
		}
	}

	run(t, activities.NewWriteLine("w", "x", nil), record("outer"), record("inner"))

	assert.Equal(t, []string{"outer>", "inner>", "<inner", "<outer"}, calls)
}

func TestFaultCapture(t *testing.T) {
	tests := []struct {
		name        string
		root        workflow.Activity
		wantMessage string
	}{
		{name: "error", root: activities.NewFault("f", "broken"), wantMessage: "broken"},
		{name: "panic", root: panicking{}, wantMessage: "activity panicked: kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wctx := run(t, tt.root, pipeline.FaultCapture())

			assert.Equal(t, models.WorkflowStatusFaulted, wctx.Status)
			require.NotNil(t, wctx.Fault)
			assert.Contains(t, wctx.Fault.Message, tt.wantMessage)
			assert.Equal(t, models.ActivityStatusFaulted, wctx.Contexts()[0].Status)
		})
	}
}

func TestCancellation(t *testing.T) {
	wf, err := workflow.NewWorkflow(nil, activities.NewWriteLine("w", "x", nil))
	require.NoError(t, err)

	wctx, err := workflow.NewExecutor(
		workflow.NewInvoker(pipeline.Cancellation()),
		&identity.SequenceGenerator{}, bookmarks.NewHasher(), slog.New(slog.NewTextHandler(io.Discard, nil)),
	).Start(t.Context(), wf, workflow.StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFinished, wctx.Status)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	mw := pipeline.Cancellation()
	called := false

	err = mw(ctx, wctx.Contexts()[0], func(context.Context, *workflow.ActivityExecutionContext) error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	run(t, activities.NewParallel("root", activities.NewFault("f", "broken")), pipeline.Logging(logger), pipeline.FaultCapture())

	out := buf.String()
	assert.Contains(t, out, "Executing activity")
	assert.Contains(t, out, "activity_id=root")
	assert.Contains(t, out, "Activity faulted")
	assert.Contains(t, out, "module=activity_pipeline")
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	run(t, activities.NewSequence("root", activities.NewFault("f", "broken")), pipeline.Tracing(tracer), pipeline.FaultCapture())

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	byActivity := make(map[string]sdktrace.ReadOnlySpan)
	for _, span := range spans {
		assert.Equal(t, "activity.execute", span.Name())
		assert.Contains(t, span.Attributes(), attribute.String(otelhelper.InstanceIDKey, "inst-1"))

		for _, attr := range span.Attributes() {
			if attr.Key == otelhelper.ActivityIDKey {
				byActivity[attr.Value.AsString()] = span
			}
		}
	}

	require.Contains(t, byActivity, "f")
	assert.Equal(t, codes.Error, byActivity["f"].Status().Code)
	assert.Equal(t, "broken", byActivity["f"].Status().Description)
	assert.Contains(t, byActivity["root"].Attributes(), attribute.String(otelhelper.StatusKey, string(models.ActivityStatusRunning)))
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	run(t, activities.NewSequence("root",
		activities.NewWriteLine("a", "x", nil),
		activities.NewWriteLine("b", "y", nil),
	), pipeline.Metrics(m))

	count, err := testutil.GatherAndCount(registry, "elsa_activity_duration_ms")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per activity type and status")
}

func TestEventing(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "inst-1", mock.Anything).Return(nil)

	run(t, activities.NewWriteLine("w", "x", nil), pipeline.Eventing(bus, slog.New(slog.NewTextHandler(io.Discard, nil))))

	assert.Equal(t, []events.EventType{events.ActivityExecutingEvent, events.ActivityExecutedEvent}, bus.PublishedTypes())

	executed, ok := bus.Calls[1].Arguments.Get(2).(events.ActivityExecuted)
	require.True(t, ok)
	assert.Equal(t, "w", executed.ActivityID)
	assert.Equal(t, models.ActivityStatusCompleted, executed.Status)
	assert.Equal(t, "def-1", executed.DefinitionID)
}

func TestEventing_PublishFailureIsIgnored(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bus down"))

	wctx := run(t, activities.NewWriteLine("w", "x", nil), pipeline.Eventing(bus, slog.New(slog.NewTextHandler(io.Discard, nil))))

	assert.Equal(t, models.WorkflowStatusFinished, wctx.Status)
}

func TestDefault(t *testing.T) {
	assert.Len(t, pipeline.Default(pipeline.Config{}), 2)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	mws := pipeline.Default(pipeline.Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tracer:   otelhelper.NoopTracer(),
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Notifier: bus,
	})
	assert.Len(t, mws, 6)

	wctx := run(t, activities.NewFault("f", "broken"), mws...)
	assert.Equal(t, models.WorkflowStatusFaulted, wctx.Status)
}
