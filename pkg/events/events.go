// Package events defines the notifications emitted by the definition publisher, the trigger
// indexer and the workflow runtime.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/novotx/elsa-core/pkg/models"
)

type EventType string

// Event is implemented by every notification.
type Event interface {
	GetType() EventType
}

const Topic = "elsa.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events, emitted around each persist.
	WorkflowDefinitionPublishingEvent EventType = "workflow_definition.publishing"
	WorkflowDefinitionPublishedEvent  EventType = "workflow_definition.published"
	WorkflowDefinitionRetractingEvent EventType = "workflow_definition.retracting"
	WorkflowDefinitionRetractedEvent  EventType = "workflow_definition.retracted"
	WorkflowDefinitionDeletedEvent    EventType = "workflow_definition.deleted"

	// Activity pipeline events.
	ActivityExecutingEvent EventType = "activity.executing"
	ActivityExecutedEvent  EventType = "activity.executed"

	// Workflow instance events.
	WorkflowStartedEvent   EventType = "workflow.started"
	WorkflowResumedEvent   EventType = "workflow.resumed"
	WorkflowSuspendedEvent EventType = "workflow.suspended"
	WorkflowFinishedEvent  EventType = "workflow.finished"
	WorkflowFaultedEvent   EventType = "workflow.faulted"

	TriggersIndexedEvent EventType = "triggers.indexed"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	DefinitionID string         `json:"definition_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, definitionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DefinitionID: definitionID,
		Metadata:     make(map[string]any),
	}
}

// Definition lifecycle

type WorkflowDefinitionPublishing struct {
	BaseEvent

	Definition models.WorkflowDefinition `json:"definition"`
}

func (e WorkflowDefinitionPublishing) GetType() EventType {
	return WorkflowDefinitionPublishingEvent
}

type WorkflowDefinitionPublished struct {
	BaseEvent

	Definition models.WorkflowDefinition `json:"definition"`
}

func (e WorkflowDefinitionPublished) GetType() EventType {
	return WorkflowDefinitionPublishedEvent
}

type WorkflowDefinitionRetracting struct {
	BaseEvent

	Definition models.WorkflowDefinition `json:"definition"`
}

func (e WorkflowDefinitionRetracting) GetType() EventType {
	return WorkflowDefinitionRetractingEvent
}

type WorkflowDefinitionRetracted struct {
	BaseEvent

	Definition models.WorkflowDefinition `json:"definition"`
}

func (e WorkflowDefinitionRetracted) GetType() EventType {
	return WorkflowDefinitionRetractedEvent
}

type WorkflowDefinitionDeleted struct {
	BaseEvent

	DeletedVersions  int `json:"deleted_versions"`
	DeletedInstances int `json:"deleted_instances"`
}

func (e WorkflowDefinitionDeleted) GetType() EventType {
	return WorkflowDefinitionDeletedEvent
}

// NewDefinitionEvent builds the lifecycle notification of eventType carrying a copy of definition.
func NewDefinitionEvent(eventType EventType, definition *models.WorkflowDefinition) Event {
	base := NewBaseEvent(eventType, definition.DefinitionID)
	def := *definition

	switch eventType {
	case WorkflowDefinitionPublishingEvent:
		return WorkflowDefinitionPublishing{BaseEvent: base, Definition: def}
	case WorkflowDefinitionPublishedEvent:
		return WorkflowDefinitionPublished{BaseEvent: base, Definition: def}
	case WorkflowDefinitionRetractingEvent:
		return WorkflowDefinitionRetracting{BaseEvent: base, Definition: def}
	case WorkflowDefinitionRetractedEvent:
		return WorkflowDefinitionRetracted{BaseEvent: base, Definition: def}
	default:
		return nil
	}
}

// Activity pipeline

type ActivityExecuting struct {
	BaseEvent

	InstanceID         string `json:"instance_id"`
	ActivityID         string `json:"activity_id"`
	ActivityType       string `json:"activity_type"`
	ActivityInstanceID string `json:"activity_instance_id"`
	Resuming           bool   `json:"resuming,omitempty"`
}

func (e ActivityExecuting) GetType() EventType {
	return ActivityExecutingEvent
}

type ActivityExecuted struct {
	BaseEvent

	InstanceID         string                `json:"instance_id"`
	ActivityID         string                `json:"activity_id"`
	ActivityType       string                `json:"activity_type"`
	ActivityInstanceID string                `json:"activity_instance_id"`
	Status             models.ActivityStatus `json:"status"`
	DurationMs         int64                 `json:"duration_ms"`
}

func (e ActivityExecuted) GetType() EventType {
	return ActivityExecutedEvent
}

// Workflow instances

// WorkflowInstanceEvent describes the outcome of one execution burst of an instance.
type WorkflowInstanceEvent struct {
	BaseEvent

	InstanceID    string                `json:"instance_id"`
	Version       int                   `json:"version"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Status        models.WorkflowStatus `json:"status"`
	Bookmarks     int                   `json:"bookmarks"`
	Error         string                `json:"error,omitempty"`
}

type WorkflowStarted struct {
	WorkflowInstanceEvent
}

func (e WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type WorkflowResumed struct {
	WorkflowInstanceEvent

	BookmarkID string `json:"bookmark_id"`
}

func (e WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type WorkflowSuspended struct {
	WorkflowInstanceEvent
}

func (e WorkflowSuspended) GetType() EventType {
	return WorkflowSuspendedEvent
}

type WorkflowFinished struct {
	WorkflowInstanceEvent
}

func (e WorkflowFinished) GetType() EventType {
	return WorkflowFinishedEvent
}

type WorkflowFaulted struct {
	WorkflowInstanceEvent
}

func (e WorkflowFaulted) GetType() EventType {
	return WorkflowFaultedEvent
}

// NewWorkflowInstanceEvent builds the common part of an instance notification from a snapshot.
func NewWorkflowInstanceEvent(eventType EventType, state *models.WorkflowState) WorkflowInstanceEvent {
	e := WorkflowInstanceEvent{
		BaseEvent:     NewBaseEvent(eventType, state.DefinitionID),
		InstanceID:    state.ID,
		Version:       state.DefinitionVersion,
		CorrelationID: state.CorrelationID,
		Status:        state.Status,
		Bookmarks:     len(state.Bookmarks),
	}

	if state.Fault != nil {
		e.Error = state.Fault.Message
	}

	return e
}

// OutcomeEvent returns the notification matching the status the instance ended its burst in.
func OutcomeEvent(state *models.WorkflowState) Event {
	switch state.Status {
	case models.WorkflowStatusFinished:
		return WorkflowFinished{NewWorkflowInstanceEvent(WorkflowFinishedEvent, state)}
	case models.WorkflowStatusFaulted:
		return WorkflowFaulted{NewWorkflowInstanceEvent(WorkflowFaultedEvent, state)}
	case models.WorkflowStatusSuspended:
		return WorkflowSuspended{NewWorkflowInstanceEvent(WorkflowSuspendedEvent, state)}
	default:
		return nil
	}
}

// Trigger index

type TriggersIndexed struct {
	BaseEvent

	Triggers []models.Trigger `json:"triggers"`
}

func (e TriggersIndexed) GetType() EventType {
	return TriggersIndexedEvent
}

func NewTriggersIndexed(definitionID string, triggers []*models.Trigger) TriggersIndexed {
	e := TriggersIndexed{
		BaseEvent: NewBaseEvent(TriggersIndexedEvent, definitionID),
		Triggers:  make([]models.Trigger, 0, len(triggers)),
	}

	for _, t := range triggers {
		e.Triggers = append(e.Triggers, *t)
	}

	return e
}
