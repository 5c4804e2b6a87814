package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/schedule"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	graphOpts   []graph.Option
}

// NewWorkflow creates a new workflow service. graphOpts apply to the graph
// validation done on every save.
func NewWorkflow(persistence persistence.Persistence, graphOpts ...graph.Option) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		graphOpts:   graphOpts,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every saved workflow.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.WorkflowRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// Create validates and saves a new workflow under a fresh ID.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	workflow.ID = uuid.New().String()

	if err := w.prepare(workflow); err != nil {
		return nil, err
	}

	err := w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces the definition of an existing workflow.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	workflow *models.Workflow,
) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.FetchByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt

	if err := w.prepare(workflow); err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// prepare assigns missing node and edge ids, then validates the workflow
// fields, its graph and its schedule.
func (w *Workflow) prepare(workflow *models.Workflow) error {
	assignIDs(workflow)

	if err := w.validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError("prepare", "INVALID_WORKFLOW", describe(validationErrors), ErrInvalidRequest)
		}

		return NewValidationError("prepare", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	nodes, edges := workflow.Graph()
	if _, err := graph.Validate(nodes, edges, w.graphOpts...); err != nil {
		return err
	}

	if workflow.Schedule != "" {
		if err := schedule.Validate(workflow.Schedule); err != nil {
			return NewValidationError("prepare", "INVALID_SCHEDULE", fmt.Sprintf("invalid schedule %q: %v", workflow.Schedule, err), ErrInvalidSchedule)
		}
	}

	return nil
}

// assignIDs gives nodes and edges without an id one that is unique within
// the workflow.
func assignIDs(workflow *models.Workflow) {
	nodeIDs := make([]string, 0, len(workflow.Nodes))
	for _, n := range workflow.Nodes {
		if n != nil && n.ID != "" {
			nodeIDs = append(nodeIDs, n.ID)
		}
	}

	nodeGen := graph.NewIDGenerator("node", nodeIDs...)
	for _, n := range workflow.Nodes {
		if n != nil && strings.TrimSpace(n.ID) == "" {
			n.ID = nodeGen.Next()
		}
	}

	edgeIDs := make([]string, 0, len(workflow.Edges))
	for _, e := range workflow.Edges {
		if e != nil && e.ID != "" {
			edgeIDs = append(edgeIDs, e.ID)
		}
	}

	edgeGen := graph.NewIDGenerator("edge", edgeIDs...)
	for _, e := range workflow.Edges {
		if e != nil && e.ID == "" {
			e.ID = edgeGen.Next()
		}
	}
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}

	return strings.Join(parts, "; ")
}
