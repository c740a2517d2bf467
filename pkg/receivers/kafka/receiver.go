// Package kafka delivers named events read from Kafka topics to waiting and triggerable workflows.
package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/novotx/elsa-core/pkg/runtime"
)

const (
	// EventHeader names the event when the message body does not.
	EventHeader       = "elsa-event"
	CorrelationHeader = "elsa-correlation-id"
	InstanceHeader    = "elsa-instance-id"
)

var ErrMissingEventName = errors.New("message carries no event name")

// EventSink is the event publisher the receiver hands messages to.
type EventSink interface {
	Publish(ctx context.Context, eventName string, opts runtime.PublishEventOptions) ([]runtime.WorkflowExecutionResult, error)
}

// Message is the JSON body of an event message. Headers fill the fields the body leaves empty;
// the message key is the fallback correlation id.
type Message struct {
	Event              string         `json:"event"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	InstanceID         string         `json:"instance_id,omitempty"`
	ActivityInstanceID string         `json:"activity_instance_id,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

type Config struct {
	Brokers       []string
	Topics        []string
	ConsumerGroup string
}

// Receiver consumes Config.Topics in a consumer group and publishes every message as an event.
type Receiver struct {
	config   Config
	sink     EventSink
	logger   *slog.Logger
	consumer sarama.ConsumerGroup

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReceiver(config Config, sink EventSink, logger *slog.Logger) *Receiver {
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "elsa-event-receiver"
	}

	return &Receiver{
		config: config,
		sink:   sink,
		logger: logger.With("module", "kafka_event_receiver"),
	}
}

func (r *Receiver) Validate() error {
	if len(r.config.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	if len(r.config.Topics) == 0 {
		return errors.New("at least one topic required")
	}

	return nil
}

func (r *Receiver) Start(ctx context.Context) error {
	err := r.Validate()
	if err != nil {
		return err
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(r.config.Brokers, r.config.ConsumerGroup, config)
	if err != nil {
		return fmt.Errorf("failed to create consumer group %s: %w", r.config.ConsumerGroup, err)
	}

	r.consumer = consumer

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)

	go func() {
		defer r.wg.Done()

		for ctx.Err() == nil {
			err := consumer.Consume(ctx, r.config.Topics, &consumerHandler{receiver: r})
			if err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "Kafka consumer error", "error", err)

				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
				}
			}
		}
	}()

	go func() {
		defer r.wg.Done()

		for {
			select {
			case err, ok := <-consumer.Errors():
				if !ok {
					return
				}

				r.logger.ErrorContext(ctx, "Kafka consumer group error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	r.logger.InfoContext(ctx, "Kafka event receiver started", "topics", r.config.Topics, "consumer_group", r.config.ConsumerGroup)

	return nil
}

func (r *Receiver) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}

	r.cancel()
	r.wg.Wait()

	err := r.consumer.Close()
	if err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}

	r.logger.InfoContext(ctx, "Kafka event receiver stopped")

	return nil
}

// Decode reads the event carried by msg.
func Decode(msg *sarama.ConsumerMessage) (Message, error) {
	var m Message

	if len(msg.Value) > 0 {
		err := json.Unmarshal(msg.Value, &m)
		if err != nil {
			return Message{}, fmt.Errorf("failed to decode message at %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}

	for _, h := range msg.Headers {
		if h == nil {
			continue
		}

		value := string(h.Value)

		switch string(h.Key) {
		case EventHeader:
			m.Event = cmp.Or(m.Event, value)
		case CorrelationHeader:
			m.CorrelationID = cmp.Or(m.CorrelationID, value)
		case InstanceHeader:
			m.InstanceID = cmp.Or(m.InstanceID, value)
		}
	}

	m.CorrelationID = cmp.Or(m.CorrelationID, string(msg.Key))

	if m.Event == "" {
		return Message{}, fmt.Errorf("%w at %s/%d/%d", ErrMissingEventName, msg.Topic, msg.Partition, msg.Offset)
	}

	return m, nil
}

// Handle publishes one message. Undecodable messages are logged and dropped.
func (r *Receiver) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	logger := r.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	m, err := Decode(msg)
	if err != nil {
		logger.WarnContext(ctx, "Dropping kafka message", "error", err)

		return nil
	}

	results, err := r.sink.Publish(ctx, m.Event, runtime.PublishEventOptions{
		CorrelationID:      m.CorrelationID,
		InstanceID:         m.InstanceID,
		ActivityInstanceID: m.ActivityInstanceID,
		Payload:            m.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", m.Event, err)
	}

	logger.DebugContext(ctx, "Delivered kafka event", "event", m.Event, "workflows", len(results))

	return nil
}

// consumerHandler implements sarama.ConsumerGroupHandler.
type consumerHandler struct {
	receiver *Receiver
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.receiver.Handle(session.Context(), msg)
		if err != nil {
			h.receiver.logger.ErrorContext(session.Context(), "Failed to deliver kafka event", "error", err)

			continue
		}

		session.MarkMessage(msg, "")
	}

	return nil
}
