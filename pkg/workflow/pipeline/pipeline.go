// Package pipeline provides the built-in middleware of the activity execution pipeline.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/metrics"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/otelhelper"
	"github.com/novotx/elsa-core/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the collaborators of the default pipeline. Nil fields disable their middleware.
type Config struct {
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *metrics.Metrics
	Notifier eventbus.EventPublisher
}

// Default returns the standard middleware, outermost first: cancellation, logging, tracing,
// metrics, eventing, fault capture.
func Default(cfg Config) []workflow.Middleware {
	mws := []workflow.Middleware{Cancellation()}

	if cfg.Logger != nil {
		mws = append(mws, Logging(cfg.Logger))
	}

	if cfg.Tracer != nil {
		mws = append(mws, Tracing(cfg.Tracer))
	}

	if cfg.Metrics != nil {
		mws = append(mws, Metrics(cfg.Metrics))
	}

	if cfg.Notifier != nil {
		logger := cfg.Logger
		if logger == nil {
			logger = slog.Default()
		}

		mws = append(mws, Eventing(cfg.Notifier, logger))
	}

	return append(mws, FaultCapture())
}

// Cancellation skips the invocation once ctx is done.
func Cancellation() workflow.Middleware {
	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
		err := ctx.Err()
		if err != nil {
			return fmt.Errorf("activity %s not invoked: %w", actx.Activity.ID(), err)
		}

		return next(ctx, actx)
	}
}

// Logging logs every invocation at debug level and failures at error level.
func Logging(logger *slog.Logger) workflow.Middleware {
	logger = logger.With("module", "activity_pipeline")

	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
		l := logger.With(
			"instance_id", actx.WorkflowContext().ID,
			"activity_id", actx.Activity.ID(),
			"activity_type", actx.Activity.Type(),
			"activity_instance_id", actx.InstanceID,
		)

		l.DebugContext(ctx, "Executing activity", "resuming", actx.IsResuming())

		err := next(ctx, actx)
		if err != nil {
			l.ErrorContext(ctx, "Activity execution failed", "error", err)

			return err
		}

		if actx.Status == models.ActivityStatusFaulted {
			l.WarnContext(ctx, "Activity faulted")
		} else {
			l.DebugContext(ctx, "Executed activity", "status", actx.Status)
		}

		return nil
	}
}

// Tracing wraps every invocation in a span.
func Tracing(tracer trace.Tracer) workflow.Middleware {
	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
		wctx := actx.WorkflowContext()

		ctx, span := otelhelper.StartSpan(ctx, tracer, "activity.execute",
			attribute.String(otelhelper.InstanceIDKey, wctx.ID),
			attribute.String(otelhelper.DefinitionIDKey, wctx.DefinitionID),
			attribute.String(otelhelper.ActivityIDKey, actx.Activity.ID()),
			attribute.String(otelhelper.ActivityTypeKey, actx.Activity.Type()),
			attribute.String(otelhelper.ActivityInstanceIDKey, actx.InstanceID),
		)
		defer span.End()

		err := next(ctx, actx)
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		if actx.Status == models.ActivityStatusFaulted && wctx.Fault != nil {
			otelhelper.SetError(span, fmt.Errorf("%s", wctx.Fault.Message))
		}

		span.SetAttributes(attribute.String(otelhelper.StatusKey, string(actx.Status)))

		return nil
	}
}

// Metrics observes the duration and resulting status of every invocation.
func Metrics(m *metrics.Metrics) workflow.Middleware {
	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
		start := time.Now()

		err := next(ctx, actx)

		status := string(actx.Status)
		if err != nil {
			status = "error"
		}

		m.ActivityExecuted(actx.Activity.Type(), status, time.Since(start))

		return err
	}
}

// Eventing publishes activity executing and executed notifications around the invocation.
func Eventing(notifier eventbus.EventPublisher, logger *slog.Logger) workflow.Middleware {
	logger = logger.With("module", "activity_pipeline")

	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) error {
		wctx := actx.WorkflowContext()

		executing := events.ActivityExecuting{
			BaseEvent:          events.NewBaseEvent(events.ActivityExecutingEvent, wctx.DefinitionID),
			InstanceID:         wctx.ID,
			ActivityID:         actx.Activity.ID(),
			ActivityType:       actx.Activity.Type(),
			ActivityInstanceID: actx.InstanceID,
			Resuming:           actx.IsResuming(),
		}
		publish(ctx, notifier, logger, wctx.ID, executing)

		start := time.Now()

		err := next(ctx, actx)
		if err != nil {
			return err
		}

		executed := events.ActivityExecuted{
			BaseEvent:          events.NewBaseEvent(events.ActivityExecutedEvent, wctx.DefinitionID),
			InstanceID:         wctx.ID,
			ActivityID:         actx.Activity.ID(),
			ActivityType:       actx.Activity.Type(),
			ActivityInstanceID: actx.InstanceID,
			Status:             actx.Status,
			DurationMs:         time.Since(start).Milliseconds(),
		}
		publish(ctx, notifier, logger, wctx.ID, executed)

		return nil
	}
}

func publish(ctx context.Context, notifier eventbus.EventPublisher, logger *slog.Logger, key string, event eventbus.Event) {
	err := notifier.Publish(ctx, key, event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// FaultCapture turns an activity error or panic into a faulted activity and workflow. Sibling
// activities keep running. Cancellation errors pass through untouched.
func FaultCapture() workflow.Middleware {
	return func(ctx context.Context, actx *workflow.ActivityExecutionContext, next workflow.ActivityHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				actx.Fail(fmt.Errorf("activity panicked: %v\n%s", r, debug.Stack()))

				err = nil
			}
		}()

		err = next(ctx, actx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		actx.Fail(err)

		return nil
	}
}
