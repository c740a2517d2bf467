package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	kafkachannel "github.com/novotx/elsa-core/pkg/channels/kafka"
	"github.com/novotx/elsa-core/pkg/cluster"
	"github.com/novotx/elsa-core/pkg/cmd"
	"github.com/novotx/elsa-core/pkg/eventbus"
	"github.com/novotx/elsa-core/pkg/identity"
	"github.com/novotx/elsa-core/pkg/indexing"
	"github.com/novotx/elsa-core/pkg/materializer"
	"github.com/novotx/elsa-core/pkg/metrics"
	"github.com/novotx/elsa-core/pkg/otelhelper"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/receivers/kafka"
	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/novotx/elsa-core/pkg/scheduling"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Port         int
	DatabaseURL  string
	IndexURL     string
	EventBus     string
	KafkaBrokers string
	KafkaTopics  []string
	PluginsPath  string
	IdleTimeout  time.Duration
	OtelEnabled  bool
}

// Server owns every long-lived component of the process.
type Server struct {
	config Config
	logger *slog.Logger

	store     persistence.Persistence
	bus       eventbus.EventBus
	registry  *registry.Registry
	metrics   *prometheus.Registry
	cluster   *cluster.Cluster
	workflows *workflow.Repository
	runtime   *runtime.Runtime
	publisher *workflow.Publisher
	indexer   *indexing.Indexer
	scheduler *scheduling.Scheduler
	receiver  *kafka.Receiver

	shutdownTracer otelhelper.ShutdownFunc
}

func NewServer(ctx context.Context, logger *slog.Logger, config Config) (*Server, error) {
	s := &Server{config: config, logger: logger}

	err := s.init(ctx)
	if err != nil {
		s.Close(ctx)

		return nil, err
	}

	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	store, err := cmd.NewPersistence(ctx, s.logger, s.config.DatabaseURL)
	if err != nil {
		return err
	}

	s.store = store

	indexed, err := cmd.NewIndex(ctx, s.logger, store, s.config.IndexURL)
	if err != nil {
		return err
	}

	s.store = indexed

	s.bus, err = cmd.NewEventBus(s.config.EventBus, s.config.KafkaBrokers, s.logger)
	if err != nil {
		return err
	}

	s.registry, err = cmd.NewRegistry(s.logger, os.Stdout, s.config.PluginsPath)
	if err != nil {
		return err
	}

	jsonMaterializer, err := materializer.NewJSONMaterializer(s.registry)
	if err != nil {
		return fmt.Errorf("failed to create materializer: %w", err)
	}

	s.metrics = prometheus.NewRegistry()
	s.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(s.metrics)

	tracer := otelhelper.NoopTracer()

	if s.config.OtelEnabled {
		tracer, s.shutdownTracer, err = otelhelper.NewTracer(ctx, "elsa-server")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	s.cluster = cluster.New(s.logger, collector, cluster.WithIdleTimeout(s.config.IdleTimeout))
	s.workflows = workflow.NewRepository(s.store, jsonMaterializer)

	s.runtime = runtime.New(s.cluster, s.store, s.workflows,
		runtime.WithTracer(tracer),
		runtime.WithMetrics(collector),
		runtime.WithNotifier(s.bus),
		runtime.WithLogger(s.logger),
	)

	s.publisher = workflow.NewPublisher(s.store, s.bus, identity.Default, s.logger)
	s.indexer = indexing.NewIndexer(s.store, s.workflows, indexing.Config{
		Notifier: s.bus,
		Metrics:  collector,
		Logger:   s.logger,
	})
	s.scheduler = scheduling.NewScheduler(s.store.TriggerRepository(), s.runtime, s.logger)

	if len(s.config.KafkaTopics) > 0 {
		s.receiver = kafka.NewReceiver(kafka.Config{
			Brokers: kafkachannel.ParseBrokers(s.config.KafkaBrokers),
			Topics:  s.config.KafkaTopics,
		}, runtime.NewEventPublisher(s.runtime), s.logger)

		err = s.receiver.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// Run starts every component and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close(context.WithoutCancel(ctx))

	err := s.indexer.Subscribe(s.bus)
	if err != nil {
		return err
	}

	err = s.scheduler.Subscribe(s.bus)
	if err != nil {
		return err
	}

	err = s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	count, err := s.indexer.IndexAll(ctx)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Indexed triggers", "count", count)

	err = s.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	if s.receiver != nil {
		err = s.receiver.Start(ctx)
		if err != nil {
			return err
		}
	}

	app := NewAPI(s.logger, s.publisher, s.workflows, s.runtime, s.registry, s.metrics).App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(":"+strconv.Itoa(s.config.Port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	s.logger.InfoContext(ctx, "Server started", "port", s.config.Port)

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}

// Close stops the components in reverse start order. Components never created are skipped.
func (s *Server) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error

	if s.receiver != nil {
		errs = append(errs, s.receiver.Stop(ctx))
	}

	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Stop(ctx))
	}

	if s.cluster != nil {
		errs = append(errs, s.cluster.Stop(ctx))
	}

	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}

	if s.shutdownTracer != nil {
		errs = append(errs, s.shutdownTracer(ctx))
	}

	if s.store != nil {
		errs = append(errs, s.store.Close(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to stop cleanly", "error", err)
	}
}
