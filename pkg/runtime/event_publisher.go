package runtime

import (
	"context"
	"fmt"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// PublishEventOptions narrows an event to a correlation id, an instance or a single suspended
// activity instance. Payload becomes the resume or start input.
type PublishEventOptions struct {
	CorrelationID      string
	InstanceID         string
	ActivityInstanceID string
	Payload            map[string]any
}

// EventPublisher delivers named events to Event activities.
type EventPublisher struct {
	runtime *Runtime
}

func NewEventPublisher(r *Runtime) *EventPublisher {
	return &EventPublisher{runtime: r}
}

// Publish delivers eventName and returns one result per instance it started or resumed.
//
// With an activity instance id the event resumes that activity, provided it waits on eventName.
// With an instance id
// it resumes that instance's bookmarks on the event. Otherwise it triggers new instances and
// resumes every waiting one.
func (p *EventPublisher) Publish(ctx context.Context, eventName string, opts PublishEventOptions) ([]WorkflowExecutionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.runtime.tracer, "runtime.publish_event",
		attribute.String(otelhelper.EventNameKey, eventName),
		attribute.String(otelhelper.CorrelationIDKey, opts.CorrelationID),
	)
	defer span.End()

	payload := activities.EventPayload(eventName)

	switch {
	case opts.ActivityInstanceID != "":
		if opts.InstanceID == "" {
			err := fmt.Errorf("event %s targets activity instance %s without an instance id", eventName, opts.ActivityInstanceID)
			otelhelper.SetError(span, err)

			return nil, err
		}

		hash, err := p.runtime.hasher.Hash(activities.TypeEvent, payload)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, fmt.Errorf("failed to hash event %s: %w", eventName, err)
		}

		result, err := p.runtime.ResumeWorkflow(ctx, opts.InstanceID, ResumeWorkflowOptions{
			ActivityInstanceID: opts.ActivityInstanceID,
			Hash:               hash,
			CorrelationID:      opts.CorrelationID,
			Input:              opts.Payload,
		})
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		if result == nil {
			return []WorkflowExecutionResult{}, nil
		}

		return []WorkflowExecutionResult{*result}, nil
	case opts.InstanceID != "":
		results, err := p.runtime.ResumeWorkflows(ctx, activities.TypeEvent, payload, ResumeWorkflowsOptions{
			CorrelationID:      opts.CorrelationID,
			WorkflowInstanceID: opts.InstanceID,
			Input:              opts.Payload,
		})
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return results, err
	default:
		results, err := p.runtime.TriggerWorkflows(ctx, activities.TypeEvent, payload, TriggerWorkflowsOptions{
			CorrelationID: opts.CorrelationID,
			Input:         opts.Payload,
		})
		if err != nil {
			otelhelper.SetError(span, err)
		}

		return results, err
	}
}
