// Package engine executes validated workflow graphs in dependency layers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/router"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs a single node. executor.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, node models.Node, inputs map[string]any) (map[string]any, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxParallel caps how many nodes of one layer run at the same time.
// Zero or negative means no cap.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) {
		s.maxParallel = n
	}
}

// WithNodeTimeout bounds every executor call. Zero means no timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.nodeTimeout = d
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// FinishFunc observes the outcome of a run started with Submit.
type FinishFunc func(ctx context.Context, runID string, status models.RunStatus, err error)

// WithOnFinish registers fn to be called after each submitted run returned.
func WithOnFinish(fn FinishFunc) Option {
	return func(s *Scheduler) {
		s.onFinish = fn
	}
}

// WithClock replaces time.Now for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler runs graphs layer by layer. Nodes of a layer run concurrently and
// the next layer starts only after every node of the current one resolved.
// A Scheduler holds no per-run state and may run many graphs at once.
type Scheduler struct {
	store       persistence.RunRepository
	dispatcher  Dispatcher
	logger      *slog.Logger
	tracer      trace.Tracer
	maxParallel int
	nodeTimeout time.Duration
	now         func() time.Time
	onFinish    FinishFunc

	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler recording state in store and executing
// nodes through dispatcher.
func NewScheduler(store persistence.RunRepository, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     otelhelper.Noop(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit starts Run in the background and returns runID at once. The run
// stops early when ctx is cancelled. Use Wait to block until every
// submitted run finished.
func (s *Scheduler) Submit(ctx context.Context, runID string, g *graph.Graph) string {
	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()

		status, err := s.Run(ctx, runID, g)
		if err != nil {
			s.logger.ErrorContext(ctx, "Workflow run aborted", "run_id", runID, "status", status, "error", err)
		}

		if s.onFinish != nil {
			s.onFinish(context.WithoutCancel(ctx), runID, status, err)
		}
	}()

	return runID
}

// Wait blocks until every run started with Submit returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// nodeResult is what one node of a layer produced.
type nodeResult struct {
	nodeID  string
	outputs map[string]any
	err     error
	// storeErr is set when the RUNNING transition was rejected; the node was not dispatched.
	storeErr error
}

// execution is the state of one run, owned by the goroutine calling Run.
type execution struct {
	runID    string
	graph    *graph.Graph
	inDegree map[string]int
	adj      map[string][]string
	order    map[string]int
	outputs  map[string]map[string]any
	status   map[string]models.RunStatus
	failed   []string
	// cancelled holds in-flight nodes stopped by the run cancellation.
	cancelled []string
}

// Run executes g for the existing PENDING workflow run runID and returns the
// final run status. Node failures are recorded on their node runs and yield
// RUNNING -> FAILED with a nil error. A non-nil error means the run was
// cancelled (failure.KindCancelled) or aborted on a broken invariant
// (failure.KindFatalInvariant); the run and every node run that did not
// finish are still marked FAILED when possible.
func (s *Scheduler) Run(ctx context.Context, runID string, g *graph.Graph) (models.RunStatus, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.run",
		attribute.String(otelhelper.RunIDKey, runID),
	)
	defer span.End()

	// Writes must land even after ctx is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	logger := s.logger.With("run_id", runID)

	status, err := s.run(ctx, storeCtx, logger, runID, g)

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(status)))

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return status, err
}

func (s *Scheduler) run(ctx, storeCtx context.Context, logger *slog.Logger, runID string, g *graph.Graph) (models.RunStatus, error) {
	err := s.store.UpdateWorkflowRunStatus(storeCtx, runID, models.RunStatusRunning, "")
	if err != nil {
		return models.RunStatusFailed, failure.Fatal(fmt.Sprintf("cannot start run %s: %v", runID, err))
	}

	logger.InfoContext(ctx, "Workflow run started", "nodes", len(g.Nodes), "edges", len(g.Edges))

	exec := &execution{
		runID:    runID,
		graph:    g,
		inDegree: g.InDegrees(),
		adj:      g.Adjacency(),
		order:    make(map[string]int, len(g.Nodes)),
		outputs:  make(map[string]map[string]any, len(g.Nodes)),
		status:   make(map[string]models.RunStatus, len(g.Nodes)),
	}

	var ready []string

	for i, node := range g.Nodes {
		exec.order[node.ID] = i

		err := s.store.CreateNodeRun(storeCtx, &models.NodeRun{
			NodeID:        node.ID,
			WorkflowRunID: runID,
			NodeType:      node.Type,
			Status:        models.RunStatusPending,
		})
		if err != nil {
			return s.abort(storeCtx, logger, exec, failure.Fatal(fmt.Sprintf("cannot record node %s: %v", node.ID, err)))
		}

		exec.status[node.ID] = models.RunStatusPending

		if exec.inDegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	if len(g.Nodes) > 0 && len(ready) == 0 {
		return s.abort(storeCtx, logger, exec, failure.Fatal("no node is free of dependencies; the graph was not validated"))
	}

	for layer := 0; len(ready) > 0; layer++ {
		if ctx.Err() != nil {
			break
		}

		results := s.runLayer(ctx, storeCtx, logger, exec, layer, ready)

		next, err := s.commitLayer(storeCtx, logger, exec, results, ctx.Err())
		if err != nil {
			return s.abort(storeCtx, logger, exec, err)
		}

		ready = next
	}

	if cause := ctx.Err(); cause != nil && (len(exec.failed) > 0 || len(exec.cancelled) > 0 || len(exec.unscheduled()) > 0) {
		return s.cancel(storeCtx, logger, exec, cause)
	}

	if len(exec.failed) > 0 {
		err := s.store.UpdateWorkflowRunStatus(storeCtx, runID, models.RunStatusFailed, exec.failureSummary())
		if err != nil {
			return models.RunStatusFailed, failure.Fatal(fmt.Sprintf("cannot finish run %s: %v", runID, err))
		}

		logger.InfoContext(ctx, "Workflow run failed", "failed_nodes", exec.failed)

		return models.RunStatusFailed, nil
	}

	if unscheduled := exec.unscheduled(); len(unscheduled) > 0 {
		return s.abort(storeCtx, logger, exec,
			failure.Fatal("nodes never became ready: "+strings.Join(unscheduled, ", ")))
	}

	err = s.store.UpdateWorkflowRunStatus(storeCtx, runID, models.RunStatusCompleted, "")
	if err != nil {
		return models.RunStatusFailed, failure.Fatal(fmt.Sprintf("cannot finish run %s: %v", runID, err))
	}

	logger.InfoContext(ctx, "Workflow run completed")

	return models.RunStatusCompleted, nil
}

// runLayer dispatches every node of layer concurrently and waits for all of them.
func (s *Scheduler) runLayer(ctx, storeCtx context.Context, logger *slog.Logger, exec *execution, layer int, ready []string) []nodeResult {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "workflow.layer",
		attribute.String(otelhelper.RunIDKey, exec.runID),
		attribute.Int(otelhelper.LayerKey, layer),
		attribute.Int(otelhelper.LayerSizeKey, len(ready)),
	)
	defer span.End()

	logger.DebugContext(ctx, "Running layer", "layer", layer, "nodes", ready)

	results := make([]nodeResult, len(ready))

	var eg errgroup.Group
	if s.maxParallel > 0 {
		eg.SetLimit(s.maxParallel)
	}

	for i, nodeID := range ready {
		node, _ := exec.graph.Node(nodeID)
		inputs := exec.inputsFor(nodeID)

		for handle, sources := range router.Shadowed(exec.graph.Incoming(nodeID)) {
			logger.DebugContext(ctx, "Input handle overwritten by a later edge",
				"node_id", nodeID, "handle", handle, "shadowed_sources", sources)
		}

		eg.Go(func() error {
			results[i] = s.executeNode(ctx, storeCtx, logger, exec.runID, node, inputs)

			return nil
		})
	}

	_ = eg.Wait()

	return results
}

func (s *Scheduler) executeNode(ctx, storeCtx context.Context, logger *slog.Logger, runID string, node models.Node, inputs map[string]any) nodeResult {
	result := nodeResult{nodeID: node.ID}

	err := s.store.UpdateNodeRunStatus(storeCtx, runID, node.ID, models.NodeRunUpdate{
		Status: models.RunStatusRunning,
		At:     s.now(),
		Inputs: inputs,
	})
	if err != nil {
		result.storeErr = err

		return result
	}

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "node.execute",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	if s.nodeTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.nodeTimeout)
		defer cancel()
	}

	logger.DebugContext(ctx, "Executing node", "node_id", node.ID, "node_type", node.Type)

	result.outputs, result.err = s.dispatcher.Dispatch(ctx, node, inputs)
	if result.err == nil && s.nodeTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// An executor that ignored its deadline still failed it.
		result.outputs = nil
		result.err = failure.Execution(node.ID, fmt.Errorf("node timed out after %s", s.nodeTimeout))
	}

	if result.err != nil {
		otelhelper.SetError(span, result.err)
	}

	return result
}

// commitLayer records the results of one layer in declaration order and
// returns the next ready set. Failed nodes do not release their targets.
// Every result is recorded even after a store error, so siblings that ran
// never stay RUNNING; the first store error is returned as fatal. A node
// that stopped because the run was cancelled (cause != nil) is recorded as
// cancelled rather than failed.
func (s *Scheduler) commitLayer(storeCtx context.Context, logger *slog.Logger, exec *execution, results []nodeResult, cause error) ([]string, error) {
	var (
		next  []string
		fatal error
	)

	keep := func(err error) {
		if fatal == nil {
			fatal = err
		}
	}

	for _, res := range results {
		if res.storeErr != nil {
			keep(failure.Fatal(fmt.Sprintf("cannot mark node %s running: %v", res.nodeID, res.storeErr)))

			continue
		}

		exec.status[res.nodeID] = models.RunStatusRunning

		if res.err != nil {
			nodeErr := res.err
			interrupted := cause != nil && errors.Is(res.err, context.Canceled)

			if interrupted {
				nodeErr = failure.Cancelled(res.nodeID, cause)
			}

			err := s.store.UpdateNodeRunStatus(storeCtx, exec.runID, res.nodeID, models.NodeRunUpdate{
				Status: models.RunStatusFailed,
				At:     s.now(),
				Error:  nodeErr.Error(),
			})
			if err != nil {
				keep(failure.Fatal(fmt.Sprintf("cannot mark node %s failed: %v", res.nodeID, err)))

				continue
			}

			exec.status[res.nodeID] = models.RunStatusFailed

			if interrupted {
				exec.cancelled = append(exec.cancelled, res.nodeID)

				continue
			}

			exec.failed = append(exec.failed, res.nodeID)

			logger.WarnContext(storeCtx, "Node failed", "node_id", res.nodeID, "error", res.err)

			continue
		}

		err := s.store.UpdateNodeRunStatus(storeCtx, exec.runID, res.nodeID, models.NodeRunUpdate{
			Status:  models.RunStatusCompleted,
			At:      s.now(),
			Outputs: res.outputs,
		})
		if err != nil {
			keep(failure.Fatal(fmt.Sprintf("cannot mark node %s completed: %v", res.nodeID, err)))

			continue
		}

		exec.status[res.nodeID] = models.RunStatusCompleted
		exec.outputs[res.nodeID] = res.outputs

		for _, target := range exec.adj[res.nodeID] {
			exec.inDegree[target]--
			if exec.inDegree[target] == 0 {
				next = append(next, target)
			}
		}
	}

	if fatal != nil {
		return nil, fatal
	}

	slices.SortFunc(next, func(a, b string) int { return exec.order[a] - exec.order[b] })

	return next, nil
}

// cancel fails every node still PENDING and then the run itself. Node
// failures recorded before the cancellation stay in the run error.
func (s *Scheduler) cancel(storeCtx context.Context, logger *slog.Logger, exec *execution, cause error) (models.RunStatus, error) {
	for _, node := range exec.graph.Nodes {
		if exec.status[node.ID] != models.RunStatusPending {
			continue
		}

		err := s.store.UpdateNodeRunStatus(storeCtx, exec.runID, node.ID, models.NodeRunUpdate{
			Status: models.RunStatusFailed,
			At:     s.now(),
			Error:  failure.Cancelled(node.ID, cause).Error(),
		})
		if err != nil {
			return s.abort(storeCtx, logger, exec,
				failure.Fatal(fmt.Sprintf("cannot mark node %s cancelled: %v", node.ID, err)))
		}

		exec.status[node.ID] = models.RunStatusFailed
	}

	cancelled := failure.Cancelled("", cause)

	msg := cancelled.Error()
	if len(exec.failed) > 0 {
		msg = exec.failureSummary() + "; " + msg
	}

	err := s.store.UpdateWorkflowRunStatus(storeCtx, exec.runID, models.RunStatusFailed, msg)
	if err != nil {
		return models.RunStatusFailed, failure.Fatal(fmt.Sprintf("cannot finish run %s: %v", exec.runID, err))
	}

	logger.InfoContext(storeCtx, "Workflow run cancelled", "cause", cause, "failed_nodes", exec.failed)

	return models.RunStatusFailed, cancelled
}

// abort marks every unfinished node run and then the run FAILED after a
// fatal invariant violation. Writes are best effort.
func (s *Scheduler) abort(storeCtx context.Context, logger *slog.Logger, exec *execution, fatal error) (models.RunStatus, error) {
	logger.ErrorContext(storeCtx, "Workflow run aborted", "error", fatal)

	for _, node := range exec.graph.Nodes {
		status, recorded := exec.status[node.ID]
		if !recorded || status.IsTerminal() {
			continue
		}

		err := s.store.UpdateNodeRunStatus(storeCtx, exec.runID, node.ID, models.NodeRunUpdate{
			Status: models.RunStatusFailed,
			At:     s.now(),
			Error:  fatal.Error(),
		})
		if err != nil {
			logger.ErrorContext(storeCtx, "Failed to mark aborted node", "node_id", node.ID, "error", err)

			continue
		}

		exec.status[node.ID] = models.RunStatusFailed
	}

	err := s.store.UpdateWorkflowRunStatus(storeCtx, exec.runID, models.RunStatusFailed, fatal.Error())
	if err != nil {
		logger.ErrorContext(storeCtx, "Failed to mark aborted run", "error", err)
	}

	return models.RunStatusFailed, fatal
}

func (e *execution) failureSummary() string {
	return fmt.Sprintf("%d node(s) failed: %s", len(e.failed), strings.Join(e.failed, ", "))
}

func (e *execution) inputsFor(nodeID string) map[string]any {
	return router.BuildInputs(e.graph.Incoming(nodeID), e.outputs)
}

func (e *execution) unscheduled() []string {
	var ids []string

	for _, node := range e.graph.Nodes {
		if e.status[node.ID] == models.RunStatusPending {
			ids = append(ids, node.ID)
		}
	}

	return ids
}
