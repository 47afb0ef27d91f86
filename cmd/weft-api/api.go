// Package main provides the Weft API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weftwork/weft/pkg/engine"
	"github.com/weftwork/weft/pkg/eventbus"
	"github.com/weftwork/weft/pkg/persistence"
	"github.com/weftwork/weft/pkg/scheduler"
	"github.com/weftwork/weft/pkg/services"
	"github.com/weftwork/weft/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *engine.Engine
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	eng *engine.Engine,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		eventBus:    eventBus,
		engine:      eng,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	executionService := services.NewExecution(a.persistence, a.eventBus, a.engine)
	reconciler := scheduler.NewScheduler(a.persistence, executionService)
	workflowService := services.NewWorkflow(a.persistence, reconciler)

	handlers := web.NewAPIHandlers(workflowService, executionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Weft API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
