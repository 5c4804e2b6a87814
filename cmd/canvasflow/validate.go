package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check a graph file for cycles, dangling edges and duplicate ids",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Graph JSON file with nodes and edges",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  cmd.FlagStrictHandles,
				Usage: "Reject graphs with two edges into the same input handle",
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			out := command.Root().Writer

			file, err := loadGraph(command.String("file"))
			if err != nil {
				return err
			}

			var opts []graph.Option
			if command.Bool(cmd.FlagStrictHandles) {
				opts = append(opts, graph.WithStrictHandles())
			}

			g, err := graph.Validate(file.Nodes, file.Edges, opts...)
			if err != nil {
				return cli.Exit("invalid graph: "+err.Error(), 1)
			}

			layers, err := g.Layers()
			if err != nil {
				return cli.Exit("invalid graph: "+err.Error(), 1)
			}

			fmt.Fprintf(out, "Graph is valid: %d nodes, %d edges, %d layers\n", len(g.Nodes), len(g.Edges), len(layers))

			for i, layer := range layers {
				fmt.Fprintf(out, "  layer %d: %s\n", i, strings.Join(layer, ", "))
			}

			registry := cmd.NewRegistry(slog.New(slog.DiscardHandler), cmd.RegistryConfig{GeminiAPIKey: "-"})

			for _, node := range g.Nodes {
				if _, known := registry.Lookup(node.Type); !known {
					fmt.Fprintf(out, "  warning: node %s has unknown type %q and will pass its inputs through\n", node.ID, node.Type)
				}
			}

			return nil
		},
	}
}
