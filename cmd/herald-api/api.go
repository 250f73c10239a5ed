// Package main provides the Herald API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/heraldflow/herald/pkg/eventbus"
	"github.com/heraldflow/herald/pkg/ingest"
	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/services"
	"github.com/heraldflow/herald/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	clock := clockwork.NewRealClock()

	workflowService := services.NewWorkflow(a.persistence, clock)
	instanceService := services.NewInstance(a.persistence, a.eventBus, clock, a.logger)
	templateService := services.NewNodeTemplate(a.persistence, clock)
	ingestService := ingest.NewService(a.persistence, a.eventBus, clock, a.logger)

	handlers := web.NewAPIHandlers(workflowService, instanceService, templateService, ingestService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Herald API")
	})

	app.Post("/triggers", handlers.Trigger)

	i := app.Group("/instances")
	i.Get("/", handlers.GetInstances)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/groups/:groupId/create-draft", handlers.CreateDraftFromPublished)

	t := app.Group("/node-templates")
	t.Get("/", handlers.GetNodeTemplates)
	t.Get("/:code", handlers.GetNodeTemplate)
	t.Put("/:code", handlers.SaveNodeTemplate)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
