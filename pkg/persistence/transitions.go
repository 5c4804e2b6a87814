package persistence

import (
	"slices"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/runstate"
)

// ApplyNodeRunUpdate checks the status change against runstate and applies
// it to nr. Backends call it between loading and saving a node run.
func ApplyNodeRunUpdate(nr *models.NodeRun, update models.NodeRunUpdate) error {
	if err := runstate.CheckNode(nr.NodeID, nr.Status, update.Status); err != nil {
		return err
	}

	if update.At.IsZero() {
		update.At = time.Now().UTC()
	}

	update.Apply(nr)

	return nil
}

// ApplyWorkflowRunStatus checks the status change against runstate and
// applies it to run, stamping CompletedAt on terminal statuses.
func ApplyWorkflowRunStatus(run *models.WorkflowRun, status models.RunStatus, errMsg string) error {
	if err := runstate.CheckRun(run.ID, run.Status, status); err != nil {
		return err
	}

	run.Status = status

	if status.IsTerminal() {
		now := time.Now().UTC()
		if now.Before(run.StartedAt) {
			now = run.StartedAt
		}

		run.CompletedAt = &now
		run.Error = errMsg
	}

	return nil
}

// NewestFirst sorts runs by StartedAt descending, ties by id, and truncates
// to limit when limit is positive.
func NewestFirst(runs []*models.WorkflowRun, limit int) []*models.WorkflowRun {
	slices.SortFunc(runs, func(a, b *models.WorkflowRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	return runs
}
