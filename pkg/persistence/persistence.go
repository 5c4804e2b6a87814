// Package persistence provides the storage abstraction for saved workflows and run state.
package persistence

import (
	"context"

	"github.com/dukex/canvasflow/pkg/models"
)

// Persistence groups the repositories of one storage backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores saved graph definitions.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository records workflow run and node run status. Every status change
// is checked against runstate; a rejected change returns a
// *runstate.TransitionError and leaves the record untouched.
type RunRepository interface {
	CreateWorkflowRun(ctx context.Context, run *models.WorkflowRun) error
	CreateNodeRun(ctx context.Context, nodeRun *models.NodeRun) error
	UpdateNodeRunStatus(ctx context.Context, runID, nodeID string, update models.NodeRunUpdate) error
	UpdateWorkflowRunStatus(ctx context.Context, runID string, status models.RunStatus, errMsg string) error

	WorkflowRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	NodeRuns(ctx context.Context, runID string) ([]*models.NodeRun, error)
	// ListWorkflowRuns returns the most recently started runs first. A
	// non-positive limit returns every run.
	ListWorkflowRuns(ctx context.Context, limit int) ([]*models.WorkflowRun, error)
}
