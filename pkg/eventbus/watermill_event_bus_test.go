package eventbus_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/novotx/elsa-core/pkg/channels/gochannel"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	var (
		mu       sync.Mutex
		received []*events.WorkflowDefinitionPublished
		indexed  int
	)

	require.NoError(t, bus.Handle(events.WorkflowDefinitionPublishedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event.(*events.WorkflowDefinitionPublished))

		return nil
	}))
	require.NoError(t, bus.Handle(events.WorkflowDefinitionPublishedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		defer mu.Unlock()

		indexed++

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	def := &models.WorkflowDefinition{ID: "v1", DefinitionID: "def-1", Version: 1, IsPublished: true}
	require.NoError(t, bus.Publish(ctx, "def-1", events.NewDefinitionEvent(events.WorkflowDefinitionPublishedEvent, def)))

	// Unhandled types are acknowledged and dropped.
	require.NoError(t, bus.Publish(ctx, "def-1", events.NewDefinitionEvent(events.WorkflowDefinitionRetractedEvent, def)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1 && indexed == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "def-1", received[0].Definition.DefinitionID)
	assert.True(t, received[0].Definition.IsPublished)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
