// Package main provides the canvasflow API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/dukex/canvasflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *executor.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	runsOpts    []services.RunsOption
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *executor.Registry,
	eventBus eventbus.EventBus,
	runsOpts ...services.RunsOption,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		runsOpts:    runsOpts,
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence)
	runService := services.NewRuns(a.persistence, a.eventBus, a.logger, a.runsOpts...)

	handlers := web.NewAPIHandlers(workflowService, runService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("canvasflow API")
	})

	handlers.Register(app)

	return app
}

// Start serves the API on port until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(net.JoinHostPort("", strconv.Itoa(port)), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	a.logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "Shutting down API")

	err := app.ShutdownWithContext(context.WithoutCancel(ctx))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
