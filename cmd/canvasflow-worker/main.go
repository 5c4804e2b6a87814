// Package main provides the canvasflow worker, which executes queued runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/schedule"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/dukex/canvasflow/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.BoolFlag{
			Name:    "enable-schedules",
			Usage:   "Submit runs of saved workflows that carry a cron schedule",
			Sources: cli.EnvVars("ENABLE_SCHEDULES"),
		},
		&cli.DurationFlag{
			Name:    "schedule-refresh",
			Usage:   "How often saved workflow schedules are reloaded",
			Value:   time.Minute,
			Sources: cli.EnvVars("SCHEDULE_REFRESH"),
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
		Name:                  "canvasflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute workflow runs requested on the event bus",
		Flags:                 flags,
		Action:                runWorker,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	if err := cmd.LoadEnvFile(command.String(cmd.FlagEnvFile)); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	log.Setup(command.String(cmd.FlagLogLevel))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("canvasflow-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing canvasflow worker")

	tracer := otelhelper.Noop()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "canvasflow-worker")
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

	eventBus, err := cmd.NewEventBus(command.String(cmd.FlagEventBus), logger, "canvasflow-worker", command.String(cmd.FlagKafkaBrokers))
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String(cmd.FlagDatabaseURL))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	manager := worker.NewManager(workerID, store, eventBus, registry, logger, tracer, cmd.SchedulerOptions(command)...)

	if err := manager.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to start worker", "error", err)

		return err
	}

	if command.Bool("enable-schedules") {
		runs := services.NewRuns(store, eventBus, logger, cmd.RunsOptions(command)...)
		scheduler := schedule.NewScheduler(services.NewWorkflow(store), runs, logger, command.Duration("schedule-refresh"))

		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schedules: %w", err)
		}

		defer scheduler.Stop()
	}

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down worker, waiting for running workflows", "running", manager.Running())

	manager.Wait()

	return nil
}
