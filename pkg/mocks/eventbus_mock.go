// Package mocks provides testify mocks of the event bus and store contracts.
package mocks

import (
	"context"

	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}

// PublishedTypes returns the event types passed to Publish, in call order.
func (m *MockEventBus) PublishedTypes() []events.EventType {
	types := make([]events.EventType, 0)

	for _, call := range m.Calls {
		if call.Method != "Publish" {
			continue
		}

		types = append(types, call.Arguments.Get(2).(eventbus.Event).GetType())
	}

	return types
}

var _ eventbus.EventBus = (*MockEventBus)(nil)
