package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
)

// graphFile is the on-disk graph format. A saved workflow export has the
// same shape.
type graphFile struct {
	Name  string        `json:"name,omitempty"`
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

func loadGraph(path string) (*graphFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	var g graphFile
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph file %s: %w", path, err)
	}

	return &g, nil
}

func printRun(w io.Writer, run *models.WorkflowRun, nodeRuns []*models.NodeRun) error {
	fmt.Fprintf(w, "Run:    %s\n", run.ID)

	if run.WorkflowID != "" {
		fmt.Fprintf(w, "Workflow: %s\n", run.WorkflowID)
	}

	fmt.Fprintf(w, "Status: %s\n", run.Status)

	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Took:   %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	if run.Error != "" {
		fmt.Fprintf(w, "Error:  %s\n", run.Error)
	}

	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tTYPE\tSTATUS\tDURATION\tERROR")

	for _, nr := range nodeRuns {
		duration := "-"
		if nr.StartedAt != nil && nr.CompletedAt != nil {
			duration = nr.CompletedAt.Sub(*nr.StartedAt).Round(time.Millisecond).String()
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", nr.NodeID, nr.NodeType, nr.Status, duration, nr.Error)
	}

	return tw.Flush()
}

func printOutputs(w io.Writer, nodeRuns []*models.NodeRun) error {
	for _, nr := range nodeRuns {
		if len(nr.Outputs) == 0 {
			continue
		}

		data, err := json.MarshalIndent(nr.Outputs, "  ", "  ")
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%s:\n  %s\n", nr.NodeID, data)
	}

	return nil
}
