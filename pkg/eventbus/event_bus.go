// Package eventbus carries notifications between the publisher, the runtime and their subscribers.
package eventbus

import (
	"context"

	"github.com/novotx/elsa-core/pkg/events"
)

type Event = events.Event

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
