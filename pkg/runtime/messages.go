package runtime

import (
	"encoding/json"

	"github.com/novotx/elsa-core/pkg/models"
)

// Grain kinds. Addresses are "<kind>-<identity>"; the running workflows grain is a singleton.
const (
	WorkflowGrainKind         = "WorkflowGrain"
	BookmarkGrainKind         = "BookmarkGrain"
	RunningWorkflowsGrainKind = "RunningWorkflowsGrain"
)

// Workflow grain messages. Inputs and states travel as serialized JSON.

type CanStartWorkflowRequest struct {
	InstanceID     string `json:"instance_id"`
	DefinitionID   string `json:"definition_id"`
	VersionOptions string `json:"version_options"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

type CanStartWorkflowResponse struct {
	CanStart bool `json:"can_start"`
}

type StartWorkflowRequest struct {
	InstanceID        string          `json:"instance_id"`
	DefinitionID      string          `json:"definition_id"`
	VersionOptions    string          `json:"version_options"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	Input             json.RawMessage `json:"input,omitempty"`
	TriggerActivityID string          `json:"trigger_activity_id,omitempty"`
}

type StartWorkflowResponse struct {
	Result WorkflowExecutionResult `json:"result"`
}

type ResumeWorkflowRequest struct {
	InstanceID         string          `json:"instance_id"`
	BookmarkID         string          `json:"bookmark_id,omitempty"`
	ActivityID         string          `json:"activity_id,omitempty"`
	ActivityInstanceID string          `json:"activity_instance_id,omitempty"`
	Hash               string          `json:"hash,omitempty"`
	CorrelationID      string          `json:"correlation_id,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
}

type ResumeWorkflowResponse struct {
	Result WorkflowExecutionResult `json:"result"`
}

type ExportWorkflowStateRequest struct {
	InstanceID string `json:"instance_id"`
}

// ExportWorkflowStateResponse carries a nil State when the instance does not exist.
type ExportWorkflowStateResponse struct {
	State json.RawMessage `json:"state,omitempty"`
}

type ImportWorkflowStateRequest struct {
	State json.RawMessage `json:"state"`
}

type ImportWorkflowStateResponse struct{}

// Bookmark grain messages, one grain per hash.

type ResolveBookmarksRequest struct {
	Hash             string `json:"hash"`
	ActivityTypeName string `json:"activity_type_name"`
	CorrelationID    string `json:"correlation_id,omitempty"`
}

type ResolveBookmarksResponse struct {
	Bookmarks []*models.StoredBookmark `json:"bookmarks"`
}

type StoreBookmarksRequest struct {
	Hash          string            `json:"hash"`
	InstanceID    string            `json:"instance_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Bookmarks     []models.Bookmark `json:"bookmarks"`
}

type RemoveBookmarksByWorkflowRequest struct {
	Hash        string   `json:"hash"`
	InstanceID  string   `json:"instance_id"`
	BookmarkIDs []string `json:"bookmark_ids,omitempty"`
}

// Ack answers requests that return nothing.
type Ack struct{}

// Running workflows grain messages.

type CountRunningWorkflowsRequest struct {
	DefinitionID  string `json:"definition_id,omitempty"`
	Version       int    `json:"version,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type CountRunningWorkflowsResponse struct {
	Count int `json:"count"`
}

// WorkflowStatusChanged tells the running workflows grain about an instance's new status.
type WorkflowStatusChanged struct {
	InstanceID    string                `json:"instance_id"`
	DefinitionID  string                `json:"definition_id"`
	Version       int                   `json:"version"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Status        models.WorkflowStatus `json:"status"`
}
