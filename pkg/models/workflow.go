// Package models defines the core domain models for workflow definitions, instances, bookmarks and triggers.
package models

import "time"

// ActivationStrategy decides whether a new instance of a definition may be started.
type ActivationStrategy string

const (
	ActivationStrategyDefault     ActivationStrategy = "default"     // Always admissible
	ActivationStrategySingleton   ActivationStrategy = "singleton"   // At most one running instance per definition
	ActivationStrategyCorrelation ActivationStrategy = "correlation" // At most one running instance per correlation id
)

// WorkflowDefinition is one version of a workflow graph.
// All versions of the same workflow share DefinitionID.
type WorkflowDefinition struct {
	ID                 string             `json:"id"`
	DefinitionID       string             `json:"definition_id"`
	Name               string             `json:"name,omitempty"`
	Version            int                `json:"version"`
	IsPublished        bool               `json:"is_published"`
	IsLatest           bool               `json:"is_latest"`
	StringData         string             `json:"string_data"`
	MaterializerName   string             `json:"materializer_name"`
	ActivationStrategy ActivationStrategy `json:"activation_strategy,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ShallowClone returns a copy of the definition; the graph payload is an immutable string.
func (d *WorkflowDefinition) ShallowClone() *WorkflowDefinition {
	clone := *d

	return &clone
}
