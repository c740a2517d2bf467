package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/novotx/elsa-core/pkg/channels/gochannel"
	"github.com/novotx/elsa-core/pkg/channels/kafka"
	"github.com/novotx/elsa-core/pkg/eventbus"
)

const serviceName = "elsa-server"

// NewEventBus creates the notification bus: "memory" (in-process, the default) or "kafka".
func NewEventBus(provider, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "memory", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
