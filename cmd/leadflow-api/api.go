// Package main provides the Leadflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
)

type API struct {
	logger   *slog.Logger
	core     *cmd.Core
	clock    clockwork.Clock
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, core *cmd.Core, clock clockwork.Clock) *API {
	return &API{
		logger:   logger,
		core:     core,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	p := a.core.Persistence

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p, a.core.Registry, a.clock),
		services.NewEnrollment(a.core.Scheduler, p.EnrollmentRepository(), a.clock),
		services.NewTrigger(a.core.Evaluator, p.StageRepository(), a.clock),
		services.NewLead(a.core.Evaluator, a.clock),
		services.NewPreference(p.NotificationRepository()),
		a.core.Registry,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Leadflow API")
	})

	web.Mount(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Listening", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
