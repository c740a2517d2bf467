// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/runtime"
)

// CreateDefinitionRequest represents the request body for creating a new definition draft.
type CreateDefinitionRequest struct {
	Name               string `json:"name"                          validate:"required,min=1"`
	StringData         string `json:"string_data,omitempty"         validate:"omitempty,json"`
	ActivationStrategy string `json:"activation_strategy,omitempty" validate:"omitempty,oneof=default singleton correlation"`
}

// SaveDraftRequest represents the request body for updating the draft of a definition.
// Omitted fields keep their current value.
type SaveDraftRequest struct {
	Name               *string `json:"name,omitempty"                validate:"omitnil,min=1"`
	StringData         *string `json:"string_data,omitempty"         validate:"omitnil,json"`
	ActivationStrategy *string `json:"activation_strategy,omitempty" validate:"omitnil,oneof=default singleton correlation"`
}

// StartWorkflowRequest represents the request body for starting an instance. VersionOptions
// is "Latest", "Published", "LatestOrPublished" or a version number; empty selects the
// published version.
type StartWorkflowRequest struct {
	InstanceID        string         `json:"instance_id,omitempty"`
	CorrelationID     string         `json:"correlation_id,omitempty"`
	VersionOptions    string         `json:"version_options,omitempty"`
	TriggerActivityID string         `json:"trigger_activity_id,omitempty"`
	Input             map[string]any `json:"input,omitempty"`
}

// ResumeWorkflowRequest selects the bookmark to resume by id, activity instance id or activity id.
type ResumeWorkflowRequest struct {
	BookmarkID         string         `json:"bookmark_id,omitempty"          validate:"required_without_all=ActivityID ActivityInstanceID"`
	ActivityID         string         `json:"activity_id,omitempty"`
	ActivityInstanceID string         `json:"activity_instance_id,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	Input              map[string]any `json:"input,omitempty"`
}

// PublishEventRequest represents the request body of a named event.
type PublishEventRequest struct {
	CorrelationID      string         `json:"correlation_id,omitempty"`
	InstanceID         string         `json:"instance_id,omitempty"          validate:"required_with=ActivityInstanceID"`
	ActivityInstanceID string         `json:"activity_instance_id,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

// WorkflowsResponse lists the instances an event or webhook started or resumed.
type WorkflowsResponse struct {
	Workflows []runtime.WorkflowExecutionResult `json:"workflows"`
}

// DefinitionResponse represents a definition version.
type DefinitionResponse struct {
	ID                 string `json:"id"`
	DefinitionID       string `json:"definition_id"`
	Name               string `json:"name"`
	Version            int    `json:"version"`
	IsPublished        bool   `json:"is_published"`
	IsLatest           bool   `json:"is_latest"`
	StringData         string `json:"string_data"`
	ActivationStrategy string `json:"activation_strategy"`
}

// TransformDefinitionResponse builds the response of a definition version.
func TransformDefinitionResponse(d *models.WorkflowDefinition) DefinitionResponse {
	strategy := d.ActivationStrategy
	if strategy == "" {
		strategy = models.ActivationStrategyDefault
	}

	return DefinitionResponse{
		ID:                 d.ID,
		DefinitionID:       d.DefinitionID,
		Name:               d.Name,
		Version:            d.Version,
		IsPublished:        d.IsPublished,
		IsLatest:           d.IsLatest,
		StringData:         d.StringData,
		ActivationStrategy: string(strategy),
	}
}
