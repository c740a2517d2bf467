package events

import (
	"encoding/json"
	"testing"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefinitionEvent(t *testing.T) {
	def := &models.WorkflowDefinition{ID: "v1", DefinitionID: "def-1", Version: 3, IsPublished: true, IsLatest: true}

	tests := []struct {
		eventType EventType
	}{
		{WorkflowDefinitionPublishingEvent},
		{WorkflowDefinitionPublishedEvent},
		{WorkflowDefinitionRetractingEvent},
		{WorkflowDefinitionRetractedEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			event := NewDefinitionEvent(tt.eventType, def)
			require.NotNil(t, event)
			assert.Equal(t, tt.eventType, event.GetType())

			data, err := json.Marshal(event)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"definition_id":"def-1"`)
			assert.Contains(t, string(data), `"version":3`)
		})
	}

	assert.Nil(t, NewDefinitionEvent(ActivityExecutedEvent, def))
}

func TestNewDefinitionEvent_CopiesDefinition(t *testing.T) {
	def := &models.WorkflowDefinition{ID: "v1", DefinitionID: "def-1", Version: 1}

	event := NewDefinitionEvent(WorkflowDefinitionPublishedEvent, def).(WorkflowDefinitionPublished)
	def.Version = 2

	assert.Equal(t, 1, event.Definition.Version)
}

func TestOutcomeEvent(t *testing.T) {
	tests := []struct {
		name   string
		state  *models.WorkflowState
		want   EventType
		errMsg string
	}{
		{
			name:  "finished",
			state: &models.WorkflowState{ID: "i1", DefinitionID: "d", Status: models.WorkflowStatusFinished},
			want:  WorkflowFinishedEvent,
		},
		{
			name: "suspended",
			state: &models.WorkflowState{ID: "i1", DefinitionID: "d", Status: models.WorkflowStatusSuspended,
				Bookmarks: []models.Bookmark{{ID: "b"}}},
			want: WorkflowSuspendedEvent,
		},
		{
			name: "faulted",
			state: &models.WorkflowState{ID: "i1", DefinitionID: "d", Status: models.WorkflowStatusFaulted,
				Fault: &models.WorkflowFault{Message: "boom"}},
			want:   WorkflowFaultedEvent,
			errMsg: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := OutcomeEvent(tt.state)
			require.NotNil(t, event)
			assert.Equal(t, tt.want, event.GetType())

			data, err := json.Marshal(event)
			require.NoError(t, err)

			var decoded WorkflowInstanceEvent
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, "i1", decoded.InstanceID)
			assert.Equal(t, tt.errMsg, decoded.Error)
			assert.Equal(t, len(tt.state.Bookmarks), decoded.Bookmarks)
		})
	}

	assert.Nil(t, OutcomeEvent(&models.WorkflowState{Status: models.WorkflowStatusRunning}))
}

func TestNewTriggersIndexed(t *testing.T) {
	event := NewTriggersIndexed("def-1", []*models.Trigger{{ID: "t1", Hash: "h"}, {ID: "t2", Hash: "h"}})

	assert.Equal(t, TriggersIndexedEvent, event.GetType())
	assert.Equal(t, "def-1", event.DefinitionID)
	assert.Len(t, event.Triggers, 2)
}
