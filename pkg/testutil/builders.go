// Package testutil provides test data builders and shared store conformance tests.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/novotx/elsa-core/pkg/models"
)

// CreateTestDefinition creates a WorkflowDefinition with default values that can be overridden.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	def := &models.WorkflowDefinition{
		ID:                 uuid.New().String(),
		DefinitionID:       uuid.New().String(),
		Name:               "Test Workflow",
		Version:            1,
		IsLatest:           true,
		StringData:         `{"type":"Sequence","id":"root"}`,
		MaterializerName:   "json",
		ActivationStrategy: models.ActivationStrategyDefault,
		CreatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// WithDefinitionID sets the shared definition id.
func WithDefinitionID(definitionID string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.DefinitionID = definitionID
	}
}

// WithVersion sets the version and its flags.
func WithVersion(version int, latest, published bool) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Version = version
		d.IsLatest = latest
		d.IsPublished = published
	}
}

// CreateTestState creates a WorkflowState with default values that can be overridden.
func CreateTestState(overrides ...func(*models.WorkflowState)) *models.WorkflowState {
	now := time.Now().UTC().Truncate(time.Millisecond)

	state := &models.WorkflowState{
		ID:                        uuid.New().String(),
		DefinitionID:              uuid.New().String(),
		DefinitionVersion:         1,
		Status:                    models.WorkflowStatusSuspended,
		Bookmarks:                 []models.Bookmark{},
		ActivityExecutionContexts: []models.ActivityExecutionContextState{},
		Variables:                 map[string]any{"counter": float64(1)},
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	for _, override := range overrides {
		override(state)
	}

	return state
}

// CreateTestStoredBookmark creates a StoredBookmark under hash for instanceID.
func CreateTestStoredBookmark(hash, instanceID string) *models.StoredBookmark {
	return &models.StoredBookmark{
		BookmarkID:         uuid.New().String(),
		Hash:               hash,
		ActivityTypeName:   "Event",
		WorkflowInstanceID: instanceID,
		CreatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}
}

// CreateTestTrigger creates a Trigger of definitionID under hash.
func CreateTestTrigger(definitionID, hash string) *models.Trigger {
	return &models.Trigger{
		ID:                   uuid.New().String(),
		WorkflowDefinitionID: definitionID,
		ActivityID:           "start",
		ActivityTypeName:     "Webhook",
		Hash:                 hash,
		Payload:              `{"path":"/x"}`,
	}
}
