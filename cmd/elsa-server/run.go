package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/novotx/elsa-core/pkg/log"
	"github.com/urfave/cli/v3"
)

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (memory, file path, sqlite://path, postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "index-url",
			Usage:   "Optional bookmark and trigger index URL (redis://...)",
			Sources: cli.EnvVars("INDEX_URL"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing activity plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func RunServerCommand() *cli.Command {
	flags := append(storeFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-topics",
			Usage:   "Kafka topics carrying named events; empty disables the Kafka receiver",
			Sources: cli.EnvVars("KAFKA_TOPICS"),
		},
		&cli.DurationFlag{
			Name:    "idle-timeout",
			Usage:   "Evict workflow grains idle for this long",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("IDLE_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces with OTLP over HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the server",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("elsa-server")
			logger.InfoContext(ctx, "Initializing workflow server")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := NewServer(ctx, logger, Config{
				Port:         command.Int("port"),
				DatabaseURL:  command.String("database-url"),
				IndexURL:     command.String("index-url"),
				EventBus:     command.String("event-bus"),
				KafkaBrokers: command.String("kafka-brokers"),
				KafkaTopics:  command.StringSlice("kafka-topics"),
				PluginsPath:  command.String("plugins-path"),
				IdleTimeout:  command.Duration("idle-timeout"),
				OtelEnabled:  command.Bool("otel-enabled"),
			})
			if err != nil {
				return err
			}

			return server.Run(ctx)
		},
	}
}

// ReindexCommand rebuilds the trigger index of every published definition and exits.
func ReindexCommand() *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the trigger index of every published definition",
		Flags: storeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("elsa-reindex")

			server, err := NewServer(ctx, logger, Config{
				DatabaseURL: command.String("database-url"),
				IndexURL:    command.String("index-url"),
				PluginsPath: command.String("plugins-path"),
			})
			if err != nil {
				return err
			}

			defer server.Close(context.WithoutCancel(ctx))

			count, err := server.indexer.IndexAll(ctx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Reindexed triggers", "count", count)

			return nil
		},
	}
}
