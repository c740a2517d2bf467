package runtime_test

import (
	"testing"

	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisher_ActivityInstanceMustWaitOnEvent(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "approval", approvalGraph, false)

	started, err := h.runtime.StartWorkflow(t.Context(), "approval", runtime.StartWorkflowOptions{InstanceID: "i-1"})
	require.NoError(t, err)
	require.Len(t, started.Bookmarks, 1)

	publisher := runtime.NewEventPublisher(h.runtime)
	target := runtime.PublishEventOptions{
		InstanceID:         "i-1",
		ActivityInstanceID: started.Bookmarks[0].ActivityInstanceID,
		Payload:            map[string]any{"by": "mallory"},
	}

	_, err = publisher.Publish(t.Context(), "some-other-event", target)
	require.ErrorIs(t, err, workflow.ErrBookmarkNotFound)
	assert.Empty(t, h.out.String())

	target.Payload = map[string]any{"by": "ann"}

	results, err := publisher.Publish(t.Context(), "approved", target)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, models.WorkflowStatusFinished, results[0].Status)
	assert.Equal(t, "approved by ann\n", h.out.String())
}

func TestEventPublisher_Routes(t *testing.T) {
	t.Run("instance id without activity instance", func(t *testing.T) {
		h := newHarness(t)
		h.publish(t, "approval", approvalGraph, false)

		_, err := h.runtime.StartWorkflow(t.Context(), "approval", runtime.StartWorkflowOptions{InstanceID: "i-1"})
		require.NoError(t, err)

		results, err := runtime.NewEventPublisher(h.runtime).Publish(t.Context(), "approved", runtime.PublishEventOptions{
			InstanceID: "i-1",
			Payload:    map[string]any{"by": "eve"},
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "i-1", results[0].InstanceID)
	})

	t.Run("activity instance without instance id", func(t *testing.T) {
		h := newHarness(t)

		_, err := runtime.NewEventPublisher(h.runtime).Publish(t.Context(), "approved", runtime.PublishEventOptions{ActivityInstanceID: "a-1"})
		assert.Error(t, err)
	})
}
