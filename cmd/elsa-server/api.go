package main

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/novotx/elsa-core/pkg/web"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
)

type API struct {
	logger    *slog.Logger
	publisher *workflow.Publisher
	workflows *workflow.Repository
	runtime   *runtime.Runtime
	registry  *registry.Registry
	gatherer  prometheus.Gatherer
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	publisher *workflow.Publisher,
	workflows *workflow.Repository,
	rt *runtime.Runtime,
	registry *registry.Registry,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:    logger,
		publisher: publisher,
		workflows: workflows,
		runtime:   rt,
		registry:  registry,
		gatherer:  gatherer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.publisher, a.workflows, a.runtime, a.validate, a.registry, a.gatherer)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := a.workflows.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Elsa workflow server")
	})

	handlers.Routes(app)

	return app
}
