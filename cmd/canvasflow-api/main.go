package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces with the OTLP HTTP exporter",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
	flags = append(flags, cmd.LogFlags()...)
	flags = append(flags, cmd.StoreFlags(true)...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  "canvasflow-api",
		Usage:                 "Serve the workflow and run API",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action:                runAPI,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	if err := cmd.LoadEnvFile(command.String(cmd.FlagEnvFile)); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	log.Setup(command.String(cmd.FlagLogLevel))

	logger := log.WithModule("canvasflow-api")
	logger.InfoContext(ctx, "Initializing canvasflow API")

	tracer := otelhelper.Noop()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "canvasflow-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = t
	}

	registry := cmd.NewRegistry(logger, cmd.RegistryConfigFrom(command))

	store, err := cmd.NewPersistence(ctx, logger, command.String(cmd.FlagDatabaseURL))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	busType := command.String(cmd.FlagEventBus)

	eventBus, err := cmd.NewEventBus(busType, logger, "canvasflow-api", command.String(cmd.FlagKafkaBrokers))
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	// The in-process channel reaches no other binary, so runs execute here.
	if busType == cmd.EventBusGoChannel || busType == "" {
		embedded, err := startEmbeddedWorker(ctx, command, store, eventBus, registry, tracer)
		if err != nil {
			return err
		}

		defer embedded.Wait()
	}

	api := NewAPI(logger, store, registry, eventBus, cmd.RunsOptions(command)...)

	return api.Start(ctx, command.Int("port"))
}

func startEmbeddedWorker(
	ctx context.Context,
	command *cli.Command,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	registry *executor.Registry,
	tracer trace.Tracer,
) (*worker.Manager, error) {
	logger := log.WithModule("canvasflow-worker")

	manager := worker.NewManager(
		"api-"+uuid.New().String()[:8],
		store,
		eventBus,
		registry,
		logger,
		tracer,
		cmd.SchedulerOptions(command)...,
	)

	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded worker: %w", err)
	}

	logger.InfoContext(ctx, "Embedded worker started")

	return manager, nil
}
