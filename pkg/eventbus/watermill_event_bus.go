package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/novotx/elsa-core/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	mu            sync.RWMutex
	subscriptions map[events.EventType][]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "event_bus"),
		subscriptions: make(map[events.EventType][]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.dispatch(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handlers := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		msg.Ack()

		return
	}

	var event any

	switch eventType {
	case events.WorkflowDefinitionPublishingEvent:
		event = &events.WorkflowDefinitionPublishing{}
	case events.WorkflowDefinitionPublishedEvent:
		event = &events.WorkflowDefinitionPublished{}
	case events.WorkflowDefinitionRetractingEvent:
		event = &events.WorkflowDefinitionRetracting{}
	case events.WorkflowDefinitionRetractedEvent:
		event = &events.WorkflowDefinitionRetracted{}
	case events.WorkflowDefinitionDeletedEvent:
		event = &events.WorkflowDefinitionDeleted{}
	case events.ActivityExecutingEvent:
		event = &events.ActivityExecuting{}
	case events.ActivityExecutedEvent:
		event = &events.ActivityExecuted{}
	case events.WorkflowStartedEvent:
		event = &events.WorkflowStarted{}
	case events.WorkflowResumedEvent:
		event = &events.WorkflowResumed{}
	case events.WorkflowSuspendedEvent:
		event = &events.WorkflowSuspended{}
	case events.WorkflowFinishedEvent:
		event = &events.WorkflowFinished{}
	case events.WorkflowFaultedEvent:
		event = &events.WorkflowFaulted{}
	case events.TriggersIndexedEvent:
		event = &events.TriggersIndexed{}
	default:
		eb.logger.WarnContext(ctx, "Unknown event type", "event_type", eventType)
		msg.Ack()

		return
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)
		msg.Ack()

		return
	}

	for _, handler := range handlers {
		err = handler(ctx, event)
		if err != nil {
			eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
			msg.Nack()

			return
		}
	}

	msg.Ack()
}

// Handle registers handler for eventType. Several handlers may share a type; they run in
// registration order.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
