package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/mocks"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/persistence/memory"
	"github.com/novotx/elsa-core/pkg/testutil"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPublisher(t *testing.T) (*workflow.Publisher, persistence.Persistence, *mocks.MockEventBus) {
	t.Helper()

	store := memory.NewPersistence()
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	return workflow.NewPublisher(store, bus, &identity.SequenceGenerator{Prefix: "id-"}, discardLogger()), store, bus
}

func versionsOf(t *testing.T, store persistence.Persistence, definitionID string) map[int]*models.WorkflowDefinition {
	t.Helper()

	versions := make(map[int]*models.WorkflowDefinition)

	for v := 1; v <= 10; v++ {
		d, err := store.WorkflowDefinitionRepository().FindByDefinitionID(context.Background(), definitionID, models.SpecificVersion(v))
		require.NoError(t, err)

		if d != nil {
			versions[v] = d
		}
	}

	return versions
}

func assertFlagInvariant(t *testing.T, store persistence.Persistence, definitionID string) {
	t.Helper()

	latest, published := 0, 0

	for _, d := range versionsOf(t, store, definitionID) {
		if d.IsLatest {
			latest++
		}

		if d.IsPublished {
			published++
		}
	}

	assert.LessOrEqual(t, latest, 1, "more than one latest version")
	assert.LessOrEqual(t, published, 1, "more than one published version")
}

func TestPublisher_New(t *testing.T) {
	publisher, _, _ := newTestPublisher(t)

	def := publisher.New()

	assert.Equal(t, "id-1", def.ID)
	assert.Equal(t, "id-2", def.DefinitionID)
	assert.Equal(t, 1, def.Version)
	assert.True(t, def.IsLatest)
	assert.False(t, def.IsPublished)
	assert.Equal(t, workflow.DefaultMaterializerName, def.MaterializerName)
	assert.JSONEq(t, `{"type":"Sequence","id":"root","activities":[]}`, def.StringData)
	assert.False(t, def.CreatedAt.IsZero())
}

func TestPublisher_LifecycleScenario(t *testing.T) {
	ctx := context.Background()
	publisher, store, bus := newTestPublisher(t)

	def, err := publisher.SaveDraft(ctx, publisher.New())
	require.NoError(t, err)

	v1, err := publisher.Publish(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.IsPublished)
	assert.True(t, v1.IsLatest)
	assertFlagInvariant(t, store, def.DefinitionID)

	v2, err := publisher.Publish(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.True(t, v2.IsPublished)
	assert.True(t, v2.IsLatest)

	versions := versionsOf(t, store, def.DefinitionID)
	require.Len(t, versions, 2)
	assert.False(t, versions[1].IsPublished)
	assert.False(t, versions[1].IsLatest)
	assertFlagInvariant(t, store, def.DefinitionID)

	retracted, err := publisher.Retract(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, 2, retracted.Version)
	assert.False(t, retracted.IsPublished)
	assert.True(t, retracted.IsLatest)

	_, err = publisher.Retract(ctx, retracted)
	require.Error(t, err)
	assert.True(t, workflow.IsInvalidState(err))
	assert.ErrorIs(t, err, workflow.ErrCannotRetractUnpublished)

	var publishErr *workflow.PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "Retract", publishErr.Op)

	assert.Equal(t, []events.EventType{
		events.WorkflowDefinitionPublishingEvent,
		events.WorkflowDefinitionPublishedEvent,
		events.WorkflowDefinitionPublishingEvent,
		events.WorkflowDefinitionPublishedEvent,
		events.WorkflowDefinitionRetractingEvent,
		events.WorkflowDefinitionRetractedEvent,
	}, bus.PublishedTypes())
}

func TestPublisher_NotificationsSurroundPersist(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}

	def := testutil.CreateTestDefinition(testutil.WithVersion(1, true, false))

	var order []string

	store.Definitions.On("FindLatestAndPublished", ctx, def.DefinitionID).Return([]*models.WorkflowDefinition{}, nil)
	store.Definitions.On("Save", ctx, def).Run(func(mock.Arguments) {
		order = append(order, "save")
	}).Return(nil)
	bus.On("Publish", ctx, def.DefinitionID, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, string(args.Get(2).(events.Event).GetType()))
	}).Return(nil)

	publisher := workflow.NewPublisher(store, bus, identity.Default, discardLogger())

	_, err := publisher.Publish(ctx, def)
	require.NoError(t, err)

	assert.Equal(t, []string{"workflow_definition.publishing", "save", "workflow_definition.published"}, order)
	store.Definitions.AssertExpectations(t)
}

func TestPublisher_NotifierFailureDoesNotFailPublish(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bus down"))

	publisher := workflow.NewPublisher(store, bus, identity.Default, discardLogger())

	def, err := publisher.Publish(ctx, publisher.New())
	require.NoError(t, err)
	assert.True(t, def.IsPublished)
}

func TestPublisher_PublishDemoteFailure(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockPersistence()

	published := testutil.CreateTestDefinition(testutil.WithVersion(1, true, true))
	draft := testutil.CreateTestDefinition(testutil.WithDefinitionID(published.DefinitionID), testutil.WithVersion(2, false, false))

	store.Definitions.On("FindLatestAndPublished", ctx, published.DefinitionID).Return([]*models.WorkflowDefinition{published}, nil)
	store.Definitions.On("Save", ctx, published).Return(errors.New("disk full"))

	publisher := workflow.NewPublisher(store, nil, identity.Default, discardLogger())

	_, err := publisher.Publish(ctx, draft)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to demote version 1")
	assert.False(t, draft.IsPublished)
}

func TestPublisher_GetDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("published latest is cloned into the next version", func(t *testing.T) {
		publisher, store, _ := newTestPublisher(t)

		published, err := publisher.Publish(ctx, publisher.New())
		require.NoError(t, err)

		draft, err := publisher.GetDraft(ctx, published.DefinitionID)
		require.NoError(t, err)
		require.NotNil(t, draft)
		assert.Equal(t, published.Version+1, draft.Version)
		assert.NotEqual(t, published.ID, draft.ID)
		assert.Equal(t, published.DefinitionID, draft.DefinitionID)
		assert.True(t, draft.IsLatest)
		assert.False(t, draft.IsPublished)

		stored, err := store.WorkflowDefinitionRepository().FindByID(ctx, draft.ID)
		require.NoError(t, err)
		assert.Nil(t, stored, "draft must not be persisted")
	})

	t.Run("unpublished latest is the draft", func(t *testing.T) {
		publisher, _, _ := newTestPublisher(t)

		saved, err := publisher.SaveDraft(ctx, publisher.New())
		require.NoError(t, err)

		draft, err := publisher.GetDraft(ctx, saved.DefinitionID)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, draft.ID)
		assert.Equal(t, saved.Version, draft.Version)
	})

	t.Run("unknown definition", func(t *testing.T) {
		publisher, _, _ := newTestPublisher(t)

		draft, err := publisher.GetDraft(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, draft)
	})
}

func TestPublisher_SaveDraftDemotesPublishedLatest(t *testing.T) {
	ctx := context.Background()
	publisher, store, _ := newTestPublisher(t)

	published, err := publisher.Publish(ctx, publisher.New())
	require.NoError(t, err)

	draft, err := publisher.GetDraft(ctx, published.DefinitionID)
	require.NoError(t, err)

	draft.Name = "edited"

	saved, err := publisher.SaveDraft(ctx, draft)
	require.NoError(t, err)
	assert.True(t, saved.IsLatest)
	assert.False(t, saved.IsPublished)

	versions := versionsOf(t, store, published.DefinitionID)
	require.Len(t, versions, 2)
	assert.True(t, versions[1].IsPublished)
	assert.False(t, versions[1].IsLatest)
	assert.True(t, versions[2].IsLatest)
	assert.Equal(t, "edited", versions[2].Name)
	assertFlagInvariant(t, store, published.DefinitionID)

	// Publishing the draft makes it the only published and latest version.
	v2, err := publisher.PublishDefinition(ctx, published.DefinitionID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, saved.ID, v2.ID)

	versions = versionsOf(t, store, published.DefinitionID)
	assert.False(t, versions[1].IsPublished)
	assert.True(t, versions[2].IsPublished)
	assertFlagInvariant(t, store, published.DefinitionID)
}

func TestPublisher_FlagInvariantUnderOperationSequences(t *testing.T) {
	ctx := context.Background()

	sequences := map[string][]string{
		"publish twice then retract":  {"publish", "publish", "retract"},
		"draft between publishes":     {"publish", "draft", "publish", "draft", "draft"},
		"retract then republish":      {"publish", "retract", "publish", "publish"},
		"drafts only":                 {"draft", "draft"},
		"publish draft retract draft": {"publish", "draft", "retract", "draft", "publish"},
	}

	for name, ops := range sequences {
		t.Run(name, func(t *testing.T) {
			publisher, store, _ := newTestPublisher(t)

			def, err := publisher.SaveDraft(ctx, publisher.New())
			require.NoError(t, err)

			definitionID := def.DefinitionID

			for _, op := range ops {
				switch op {
				case "publish":
					_, err = publisher.PublishDefinition(ctx, definitionID)
				case "retract":
					_, err = publisher.RetractDefinition(ctx, definitionID)
				case "draft":
					var draft *models.WorkflowDefinition

					draft, err = publisher.GetDraft(ctx, definitionID)
					require.NoError(t, err)

					_, err = publisher.SaveDraft(ctx, draft)
				}

				require.NoError(t, err, op)
				assertFlagInvariant(t, store, definitionID)
			}
		})
	}
}

func TestPublisher_RetractDefinitionWithoutPublishedVersion(t *testing.T) {
	publisher, _, _ := newTestPublisher(t)

	def, err := publisher.RetractDefinition(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestPublisher_DeleteRemovesInstancesThenDefinitions(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}

	var order []string

	store.Instances.On("DeleteByDefinitionID", ctx, "def-1").Run(func(mock.Arguments) {
		order = append(order, "instances")
	}).Return(3, nil)
	store.Definitions.On("DeleteByDefinitionID", ctx, "def-1").Run(func(mock.Arguments) {
		order = append(order, "definitions")
	}).Return(2, nil)
	bus.On("Publish", ctx, "def-1", mock.Anything).Return(nil)

	publisher := workflow.NewPublisher(store, bus, identity.Default, discardLogger())

	require.NoError(t, publisher.Delete(ctx, &models.WorkflowDefinition{DefinitionID: "def-1"}))
	assert.Equal(t, []string{"instances", "definitions"}, order)

	deleted := bus.Calls[0].Arguments.Get(2).(events.WorkflowDefinitionDeleted)
	assert.Equal(t, 2, deleted.DeletedVersions)
	assert.Equal(t, 3, deleted.DeletedInstances)
}

func TestPublisher_DeleteStopsWhenInstancesFail(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockPersistence()

	store.Instances.On("DeleteByDefinitionID", ctx, "def-1").Return(0, errors.New("locked"))

	publisher := workflow.NewPublisher(store, nil, identity.Default, discardLogger())

	err := publisher.DeleteDefinition(ctx, "def-1")
	require.Error(t, err)
	store.Definitions.AssertNotCalled(t, "DeleteByDefinitionID", mock.Anything, mock.Anything)
}
