package main

import (
	"context"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/urfave/cli/v3"
)

func NewStatusCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "run-id",
			Usage:    "Run to inspect",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "outputs",
			Usage: "Print the outputs of every node",
		},
	}
	flags = append(flags, cmd.LogFlags()...)
	flags = append(flags, cmd.StoreFlags(true)...)

	return &cli.Command{
		Name:    "status",
		Aliases: []string{"s"},
		Usage:   "Show the status of a run and its nodes",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String(cmd.FlagLogLevel))

			logger := log.WithModule("canvasflow").With("action", "status")
			runID := command.String("run-id")

			store, err := cmd.NewPersistence(ctx, logger, command.String(cmd.FlagDatabaseURL))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			run, err := store.RunRepository().WorkflowRun(ctx, runID)
			if err != nil {
				if persistence.IsRunNotFound(err) {
					return cli.Exit("run "+runID+" not found", 1)
				}

				return err
			}

			nodeRuns, err := store.RunRepository().NodeRuns(ctx, runID)
			if err != nil {
				return err
			}

			out := command.Root().Writer

			if err := printRun(out, run, nodeRuns); err != nil {
				return err
			}

			if command.Bool("outputs") {
				return printOutputs(out, nodeRuns)
			}

			return nil
		},
	}
}
