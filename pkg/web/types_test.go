package web_test

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/web"
	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T {
	return &v
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	validate := validator.New(validator.WithRequiredStructEnabled())

	tests := []struct {
		name    string
		request any
		valid   bool
	}{
		{"create with name", web.CreateDefinitionRequest{Name: "a"}, true},
		{"create without name", web.CreateDefinitionRequest{}, false},
		{"create with correlation strategy", web.CreateDefinitionRequest{Name: "a", ActivationStrategy: "correlation"}, true},
		{"create with invalid graph json", web.CreateDefinitionRequest{Name: "a", StringData: "{]"}, false},
		{"draft without changes", web.SaveDraftRequest{}, true},
		{"draft with empty name", web.SaveDraftRequest{Name: ptr("")}, false},
		{"draft with graph", web.SaveDraftRequest{StringData: ptr(`{"type":"Sequence","id":"root"}`)}, true},
		{"draft with unknown strategy", web.SaveDraftRequest{ActivationStrategy: ptr("always")}, false},
		{"resume by bookmark", web.ResumeWorkflowRequest{BookmarkID: "b-1"}, true},
		{"resume by activity", web.ResumeWorkflowRequest{ActivityID: "wait"}, true},
		{"resume by activity instance", web.ResumeWorkflowRequest{ActivityInstanceID: "a-1"}, true},
		{"resume without selector", web.ResumeWorkflowRequest{CorrelationID: "c-1"}, false},
		{"event broadcast", web.PublishEventRequest{}, true},
		{"event to activity instance", web.PublishEventRequest{InstanceID: "i-1", ActivityInstanceID: "a-1"}, true},
		{"event to activity instance without instance", web.PublishEventRequest{ActivityInstanceID: "a-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validate.Struct(tt.request)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTransformDefinitionResponse(t *testing.T) {
	t.Parallel()

	definition := &models.WorkflowDefinition{
		ID:           "v1",
		DefinitionID: "d1",
		Name:         "Orders",
		Version:      3,
		IsPublished:  true,
		StringData:   `{}`,
	}

	response := web.TransformDefinitionResponse(definition)

	assert.Equal(t, web.DefinitionResponse{
		ID:                 "v1",
		DefinitionID:       "d1",
		Name:               "Orders",
		Version:            3,
		IsPublished:        true,
		StringData:         `{}`,
		ActivationStrategy: "default",
	}, response)
}
