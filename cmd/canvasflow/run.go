package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Graph JSON file with nodes and edges",
		},
		&cli.StringFlag{
			Name:  "workflow-id",
			Usage: "Run a saved workflow from the database instead of a file",
		},
		&cli.BoolFlag{
			Name:  "outputs",
			Usage: "Print the outputs of every node",
		},
	}
	flags = append(flags, cmd.LogFlags()...)
	flags = append(flags, cmd.StoreFlags(false)...)
	flags = append(flags, cmd.EngineFlags()...)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Execute a graph in this process and print the status of every node",
		Flags:   flags,
		Action:  runGraph,
	}
}

func runGraph(ctx context.Context, command *cli.Command) error {
	if err := cmd.LoadEnvFile(command.String(cmd.FlagEnvFile)); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	log.Setup(command.String(cmd.FlagLogLevel))

	logger := log.WithModule("canvasflow").With("action", "run")
	out := command.Root().Writer

	store, err := cmd.NewPersistence(ctx, logger, command.String(cmd.FlagDatabaseURL))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	var (
		nodes      []models.Node
		edges      []models.Edge
		workflowID = command.String("workflow-id")
	)

	switch {
	case workflowID != "" && command.String("file") != "":
		return cli.Exit("--file and --workflow-id are mutually exclusive", 1)
	case workflowID != "":
		workflow, err := services.NewWorkflow(store).FetchByID(ctx, workflowID)
		if err != nil {
			return err
		}

		nodes, edges = workflow.Graph()
	case command.String("file") != "":
		file, err := loadGraph(command.String("file"))
		if err != nil {
			return err
		}

		nodes, edges = file.Nodes, file.Edges
	default:
		return cli.Exit("one of --file or --workflow-id is required", 1)
	}

	var opts []graph.Option
	if command.Bool(cmd.FlagStrictHandles) {
		opts = append(opts, graph.WithStrictHandles())
	}

	g, err := graph.Validate(nodes, edges, opts...)
	if err != nil {
		return cli.Exit("invalid graph: "+err.Error(), 1)
	}

	run := &models.WorkflowRun{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     models.RunStatusPending,
		StartedAt:  time.Now().UTC(),
	}

	if err := store.RunRepository().CreateWorkflowRun(ctx, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	registry := cmd.NewRegistry(logger, cmd.RegistryConfigFrom(command))
	scheduler := engine.NewScheduler(store.RunRepository(), registry, logger, cmd.SchedulerOptions(command)...)

	status, runErr := scheduler.Run(ctx, run.ID, g)

	storeCtx := context.WithoutCancel(ctx)

	finished, err := store.RunRepository().WorkflowRun(storeCtx, run.ID)
	if err != nil {
		return err
	}

	nodeRuns, err := store.RunRepository().NodeRuns(storeCtx, run.ID)
	if err != nil {
		return err
	}

	if err := printRun(out, finished, nodeRuns); err != nil {
		return err
	}

	if command.Bool("outputs") {
		if err := printOutputs(out, nodeRuns); err != nil {
			return err
		}
	}

	if status == models.RunStatusFailed {
		msg := "run failed"
		if runErr != nil {
			msg += ": " + runErr.Error()
		}

		return cli.Exit(msg, 1)
	}

	return nil
}
