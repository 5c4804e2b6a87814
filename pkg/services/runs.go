package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/google/uuid"
)

// Run listing bounds.
const (
	DefaultRunListLimit = 20
	MaxRunListLimit     = 100
)

// SubmitRunRequest starts a run of a saved workflow or of an inline graph.
type SubmitRunRequest struct {
	WorkflowID string        `json:"workflow_id,omitempty"`
	Nodes      []models.Node `json:"nodes,omitempty"       validate:"dive"`
	Edges      []models.Edge `json:"edges,omitempty"       validate:"dive"`
}

func (r SubmitRunRequest) inline() bool {
	return r.Nodes != nil || r.Edges != nil
}

// RunDetails is a workflow run with its node runs in creation order.
type RunDetails struct {
	*models.WorkflowRun

	NodeRuns []*models.NodeRun `json:"node_runs"`
}

// Runs creates runs and hands them to the workers through the event bus.
type Runs struct {
	persistence persistence.Persistence
	workflows   *Workflow
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	graphOpts   []graph.Option
	strict      bool
	newID       func() string
	now         func() time.Time
}

// RunsOption configures Runs.
type RunsOption func(*Runs)

// WithStrictHandles rejects graphs with two edges into one input handle.
func WithStrictHandles() RunsOption {
	return func(r *Runs) {
		r.strict = true
		r.graphOpts = append(r.graphOpts, graph.WithStrictHandles())
	}
}

// NewRuns creates the run service.
func NewRuns(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...RunsOption) *Runs {
	r := &Runs{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "runs"),
		newID:       func() string { return uuid.New().String() },
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	r.workflows = NewWorkflow(persistence, r.graphOpts...)

	return r
}

// Submit validates the graph, records a PENDING run and requests its
// execution. Graph errors are returned before anything is written.
func (r *Runs) Submit(ctx context.Context, req SubmitRunRequest) (*models.WorkflowRun, error) {
	var (
		nodes []models.Node
		edges []models.Edge
	)

	switch {
	case req.WorkflowID != "" && req.inline():
		return nil, ErrAmbiguousRequest
	case req.WorkflowID != "":
		workflow, err := r.workflows.FetchByID(ctx, req.WorkflowID)
		if err != nil {
			return nil, err
		}

		nodes, edges = workflow.Graph()
	case req.inline():
		nodes, edges = req.Nodes, req.Edges
	default:
		return nil, ErrGraphRequired
	}

	g, err := graph.Validate(nodes, edges, r.graphOpts...)
	if err != nil {
		return nil, err
	}

	run := &models.WorkflowRun{
		ID:         r.newID(),
		WorkflowID: req.WorkflowID,
		Status:     models.RunStatusPending,
		StartedAt:  r.now(),
	}

	if err := r.persistence.RunRepository().CreateWorkflowRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	event := events.RunRequested{
		BaseEvent:     events.NewBaseEvent(r.newID(), events.RunRequestedEvent, req.WorkflowID),
		RunID:         run.ID,
		Nodes:         g.Nodes,
		Edges:         g.Edges,
		StrictHandles: r.strict,
	}

	if err := r.publisher.Publish(ctx, run.ID, event); err != nil {
		msg := "failed to enqueue run: " + err.Error()
		if markErr := r.persistence.RunRepository().UpdateWorkflowRunStatus(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, msg); markErr != nil {
			r.logger.ErrorContext(ctx, "Failed to mark unqueued run as failed", "run_id", run.ID, "error", markErr)
		}

		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	r.logger.InfoContext(ctx, "Run submitted", "run_id", run.ID, "workflow_id", req.WorkflowID, "nodes", len(g.Nodes))

	return run, nil
}

// SubmitWorkflow starts a run of a saved workflow.
func (r *Runs) SubmitWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	return r.Submit(ctx, SubmitRunRequest{WorkflowID: workflowID})
}

// Get returns a run and its node runs.
func (r *Runs) Get(ctx context.Context, runID string) (*RunDetails, error) {
	run, err := r.persistence.RunRepository().WorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodeRuns, err := r.persistence.RunRepository().NodeRuns(ctx, runID)
	if err != nil {
		return nil, err
	}

	if nodeRuns == nil {
		nodeRuns = []*models.NodeRun{}
	}

	return &RunDetails{WorkflowRun: run, NodeRuns: nodeRuns}, nil
}

// List returns the most recent runs first. limit defaults to
// DefaultRunListLimit and is capped at MaxRunListLimit.
func (r *Runs) List(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}

	limit = min(limit, MaxRunListLimit)

	runs, err := r.persistence.RunRepository().ListWorkflowRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	if runs == nil {
		runs = []*models.WorkflowRun{}
	}

	return runs, nil
}

// Cancel asks the worker executing runID to stop. Finished runs return
// ErrRunFinished.
func (r *Runs) Cancel(ctx context.Context, runID, reason string) error {
	run, err := r.persistence.RunRepository().WorkflowRun(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return &ServiceError{
			Op:      "Cancel",
			Code:    "RUN_FINISHED",
			Message: fmt.Sprintf("run %s already %s", runID, run.Status),
			Err:     ErrRunFinished,
		}
	}

	event := events.RunCancelRequested{
		BaseEvent: events.NewBaseEvent(r.newID(), events.RunCancelRequestedEvent, run.WorkflowID),
		RunID:     runID,
		Reason:    reason,
	}

	if err := r.publisher.Publish(ctx, runID, event); err != nil {
		return fmt.Errorf("failed to request cancellation of run %s: %w", runID, err)
	}

	r.logger.InfoContext(ctx, "Run cancellation requested", "run_id", runID)

	return nil
}
