package scheduling_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/bookmarks"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/mocks"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/persistence/memory"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/novotx/elsa-core/pkg/scheduling"
	"github.com/novotx/elsa-core/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type call struct {
	activityType string
	payload      any
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *fakeRunner) TriggerWorkflows(_ context.Context, activityTypeName string, payload any, _ runtime.TriggerWorkflowsOptions) ([]runtime.WorkflowExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call{activityType: activityTypeName, payload: payload})

	return nil, r.err
}

func (r *fakeRunner) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]call(nil), r.calls...)
}

func cronTrigger(t *testing.T, definitionID, expression string) *models.Trigger {
	t.Helper()

	hash, err := bookmarks.NewHasher().Hash(activities.TypeCron, activities.CronPayload(expression))
	require.NoError(t, err)

	trigger := testutil.CreateTestTrigger(definitionID, hash)
	trigger.ActivityTypeName = activities.TypeCron
	trigger.Payload = `{"expression":"` + expression + `"}`

	return trigger
}

func newScheduler(t *testing.T) (*scheduling.Scheduler, *memory.Persistence, *fakeRunner) {
	t.Helper()

	store := memory.NewPersistence()
	runner := &fakeRunner{}
	s := scheduling.NewScheduler(store.TriggerRepository(), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	return s, store, runner
}

func TestScheduler_Sync(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newScheduler(t)
	triggers := store.TriggerRepository()

	require.NoError(t, triggers.ReplaceByDefinitionID(ctx, "a", []*models.Trigger{
		cronTrigger(t, "a", "*/5 * * * *"),
		cronTrigger(t, "a", "0 * * * *"),
	}))
	// Same expression as definition a: one job per hash.
	require.NoError(t, triggers.ReplaceByDefinitionID(ctx, "b", []*models.Trigger{cronTrigger(t, "b", "0 * * * *")}))

	broken := cronTrigger(t, "c", "x")
	broken.Payload = `{"expression":"not a schedule"}`
	require.NoError(t, triggers.ReplaceByDefinitionID(ctx, "c", []*models.Trigger{broken}))

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, triggers.DeleteByDefinitionID(ctx, "a"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, triggers.DeleteByDefinitionID(ctx, "b"))
	require.NoError(t, s.Sync(ctx))
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_FireTriggersCronWorkflows(t *testing.T) {
	s, _, runner := newScheduler(t)

	s.Fire("*/5 * * * *")

	assert.Equal(t, []call{{activityType: activities.TypeCron, payload: activities.CronPayload("*/5 * * * *")}}, runner.Calls())

	runner.err = errors.New("cluster stopped")
	s.Fire("*/5 * * * *")
	assert.Len(t, runner.Calls(), 2)
}

func TestScheduler_SubscribeResyncs(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newScheduler(t)

	var handler eventbus.EventHandler

	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.TriggersIndexedEvent, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(1).(eventbus.EventHandler)
	}).Return(nil)

	require.NoError(t, s.Subscribe(bus))
	require.NotNil(t, handler)

	require.NoError(t, store.TriggerRepository().ReplaceByDefinitionID(ctx, "a", []*models.Trigger{cronTrigger(t, "a", "0 0 * * *")}))
	require.NoError(t, handler(ctx, events.NewTriggersIndexed("a", nil)))

	assert.Equal(t, 1, s.Len())
	bus.AssertExpectations(t)
}
