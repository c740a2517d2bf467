package models

import (
	"encoding/json"
	"time"
)

// WorkflowStatus is the coarse lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusSuspended WorkflowStatus = "suspended"
	WorkflowStatusFinished  WorkflowStatus = "finished"
	WorkflowStatusFaulted   WorkflowStatus = "faulted"
)

// IsRunning reports whether the instance still holds live state (running or waiting on bookmarks).
func (s WorkflowStatus) IsRunning() bool {
	return s == WorkflowStatusRunning || s == WorkflowStatusSuspended
}

// ActivityStatus is the state of one activity execution context.
type ActivityStatus string

const (
	ActivityStatusRunning   ActivityStatus = "running"
	ActivityStatusSuspended ActivityStatus = "suspended"
	ActivityStatusCompleted ActivityStatus = "completed"
	ActivityStatusFaulted   ActivityStatus = "faulted"
)

// WorkflowFault records an unhandled activity error.
type WorkflowFault struct {
	Message            string    `json:"message"`
	ActivityID         string    `json:"activity_id,omitempty"`
	ActivityInstanceID string    `json:"activity_instance_id,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ActivityExecutionContextState is the serialized form of one arena entry.
type ActivityExecutionContextState struct {
	Handle             int            `json:"handle"`
	ParentHandle       int            `json:"parent_handle"`
	ActivityID         string         `json:"activity_id"`
	ActivityInstanceID string         `json:"activity_instance_id"`
	Status             ActivityStatus `json:"status"`
	Properties         map[string]any `json:"properties,omitempty"`
	Register           map[string]any `json:"register,omitempty"`
	Output             any            `json:"output,omitempty"`
}

// WorkItemState is a scheduled, not yet executed, activity invocation.
type WorkItemState struct {
	ActivityID  string         `json:"activity_id"`
	OwnerHandle int            `json:"owner_handle"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// WorkflowState is the durable snapshot of one workflow instance.
type WorkflowState struct {
	ID                        string                          `json:"id"`
	DefinitionID              string                          `json:"definition_id"`
	DefinitionVersion         int                             `json:"definition_version"`
	CorrelationID             string                          `json:"correlation_id,omitempty"`
	Status                    WorkflowStatus                  `json:"status"`
	Bookmarks                 []Bookmark                      `json:"bookmarks"`
	Fault                     *WorkflowFault                  `json:"fault,omitempty"`
	ActivityExecutionContexts []ActivityExecutionContextState `json:"activity_execution_contexts"`
	ScheduledWork             []WorkItemState                 `json:"scheduled_work,omitempty"`
	Variables                 map[string]any                  `json:"variables,omitempty"`
	Input                     map[string]any                  `json:"input,omitempty"`
	Output                    map[string]any                  `json:"output,omitempty"`
	CreatedAt                 time.Time                       `json:"created_at"`
	UpdatedAt                 time.Time                       `json:"updated_at"`
	FinishedAt                *time.Time                      `json:"finished_at,omitempty"`
}

// Marshal serializes the state with the persistence encoding.
func (s *WorkflowState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalWorkflowState is the inverse of Marshal.
func UnmarshalWorkflowState(data []byte) (*WorkflowState, error) {
	var state WorkflowState

	err := json.Unmarshal(data, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Clone returns a deep copy of the snapshot. Values come back in their JSON form, the same as
// a snapshot loaded from any store.
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}

	return UnmarshalWorkflowState(data)
}

// InstanceFilter narrows instance queries. Zero values do not filter.
type InstanceFilter struct {
	DefinitionID  string
	Version       int
	CorrelationID string
	Statuses      []WorkflowStatus
}

// Matches reports whether the state passes the filter.
func (f InstanceFilter) Matches(s *WorkflowState) bool {
	if f.DefinitionID != "" && s.DefinitionID != f.DefinitionID {
		return false
	}

	if f.Version > 0 && s.DefinitionVersion != f.Version {
		return false
	}

	if f.CorrelationID != "" && s.CorrelationID != f.CorrelationID {
		return false
	}

	if len(f.Statuses) == 0 {
		return true
	}

	for _, status := range f.Statuses {
		if s.Status == status {
			return true
		}
	}

	return false
}
