// Package worker consumes run requests from the event bus and executes them with the engine scheduler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// inflight is a run executing on this worker.
type inflight struct {
	workflowID string
	startedAt  time.Time
	cancel     context.CancelFunc
}

// Manager executes the runs requested on the event bus. Runs are started in
// the background so cancel requests keep flowing while they execute.
type Manager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	scheduler   *engine.Scheduler
	tracer      trace.Tracer

	mu      sync.Mutex
	baseCtx context.Context
	running map[string]inflight
}

// NewManager creates a worker. opts configure the scheduler that runs the
// graphs; the finish callback is owned by the manager.
func NewManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	dispatcher engine.Dispatcher,
	logger *slog.Logger,
	tracer trace.Tracer,
	opts ...engine.Option,
) *Manager {
	if tracer == nil {
		tracer = otelhelper.Noop()
	}

	m := &Manager{
		id:          id,
		logger:      logger.With("module", "canvasflow-worker", "worker_id", id),
		persistence: persistence,
		eventBus:    eventBus,
		tracer:      tracer,
		baseCtx:     context.Background(),
		running:     make(map[string]inflight),
	}

	opts = append(opts, engine.WithTracer(tracer), engine.WithOnFinish(m.finish))
	m.scheduler = engine.NewScheduler(persistence.RunRepository(), dispatcher, m.logger, opts...)

	return m
}

// Start registers the run handlers and subscribes to the bus. Cancelling ctx
// cancels every run still executing; call Wait to let them record their
// final state.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager")

	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	err := m.eventBus.Handle(events.RunRequestedEvent, m.handleRunRequested)
	if err != nil {
		return err
	}

	err = m.eventBus.Handle(events.RunCancelRequestedEvent, m.handleRunCancelRequested)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Wait blocks until every run started by this worker finished.
func (m *Manager) Wait() {
	m.scheduler.Wait()
}

// Running returns the number of runs executing on this worker.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.running)
}

func (m *Manager) handleRunRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.RunRequested)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for RunRequested")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "worker.run_requested",
		attribute.String(otelhelper.RunIDKey, requested.RunID),
		attribute.String(otelhelper.WorkflowIDKey, requested.WorkflowID),
		attribute.String(otelhelper.ServiceIDKey, m.id),
	)
	defer span.End()

	logger := m.logger.With(
		"run_id", requested.RunID,
		"workflow_id", requested.WorkflowID,
		"event_id", requested.ID,
	)
	logger.InfoContext(ctx, "Processing run requested event")

	run, err := m.persistence.RunRepository().WorkflowRun(ctx, requested.RunID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			logger.WarnContext(ctx, "Dropping request for unknown run")

			return nil
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load run %s: %w", requested.RunID, err)
	}

	if run.Status != models.RunStatusPending {
		logger.InfoContext(ctx, "Skipping run that is no longer pending", "status", run.Status)

		return nil
	}

	var opts []graph.Option
	if requested.StrictHandles {
		opts = append(opts, graph.WithStrictHandles())
	}

	g, err := graph.Validate(requested.Nodes, requested.Edges, opts...)
	if err != nil {
		logger.WarnContext(ctx, "Rejecting invalid graph", "error", err)
		otelhelper.SetError(span, err)
		m.fail(ctx, logger, requested.RunID, requested.WorkflowID, err.Error())

		return nil
	}

	m.mu.Lock()
	if _, exists := m.running[requested.RunID]; exists {
		m.mu.Unlock()
		logger.InfoContext(ctx, "Run already executing on this worker")

		return nil
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.running[requested.RunID] = inflight{
		workflowID: requested.WorkflowID,
		startedAt:  time.Now(),
		cancel:     cancel,
	}
	m.mu.Unlock()

	m.scheduler.Submit(runCtx, requested.RunID, g)

	return nil
}

func (m *Manager) handleRunCancelRequested(ctx context.Context, event any) error {
	cancelEvent, ok := event.(*events.RunCancelRequested)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for RunCancelRequested")

		return nil
	}

	logger := m.logger.With("run_id", cancelEvent.RunID, "reason", cancelEvent.Reason)

	m.mu.Lock()
	entry, exists := m.running[cancelEvent.RunID]
	m.mu.Unlock()

	if exists {
		logger.InfoContext(ctx, "Cancelling run")
		entry.cancel()

		return nil
	}

	run, err := m.persistence.RunRepository().WorkflowRun(ctx, cancelEvent.RunID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to load run %s: %w", cancelEvent.RunID, err)
	}

	// a pending run has not reached any worker yet
	if run.Status != models.RunStatusPending {
		logger.DebugContext(ctx, "Ignoring cancel for run not executing here", "status", run.Status)

		return nil
	}

	msg := "run cancelled"
	if cancelEvent.Reason != "" {
		msg += ": " + cancelEvent.Reason
	}

	logger.InfoContext(ctx, "Cancelling pending run")
	m.fail(ctx, logger, run.ID, run.WorkflowID, msg)

	return nil
}

// fail moves a run that never started to FAILED and announces it.
func (m *Manager) fail(ctx context.Context, logger *slog.Logger, runID, workflowID, msg string) {
	storeCtx := context.WithoutCancel(ctx)

	err := m.persistence.RunRepository().UpdateWorkflowRunStatus(storeCtx, runID, models.RunStatusFailed, msg)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to mark run as failed", "error", err)

		return
	}

	m.publishFinished(storeCtx, logger, events.RunFinished{
		BaseEvent: events.NewBaseEvent(m.eventBus.GenerateID(), events.RunFinishedEvent, workflowID),
		RunID:     runID,
		Status:    models.RunStatusFailed,
		Error:     msg,
	})
}

func (m *Manager) finish(ctx context.Context, runID string, status models.RunStatus, runErr error) {
	m.mu.Lock()
	entry, exists := m.running[runID]
	delete(m.running, runID)
	m.mu.Unlock()

	logger := m.logger.With("run_id", runID, "status", status)

	if exists {
		entry.cancel()
	}

	finished := events.RunFinished{
		BaseEvent: events.NewBaseEvent(m.eventBus.GenerateID(), events.RunFinishedEvent, entry.workflowID),
		RunID:     runID,
		Status:    status,
	}

	if exists {
		finished.Duration = time.Since(entry.startedAt)
	}

	switch {
	case runErr != nil:
		finished.Error = runErr.Error()
	case status == models.RunStatusFailed:
		run, err := m.persistence.RunRepository().WorkflowRun(ctx, runID)
		if err == nil {
			finished.Error = run.Error
		}
	}

	logger.InfoContext(ctx, "Run finished", "duration", finished.Duration)
	m.publishFinished(ctx, logger, finished)
}

func (m *Manager) publishFinished(ctx context.Context, logger *slog.Logger, event events.RunFinished) {
	event.WorkerID = m.id

	err := m.eventBus.Publish(ctx, event.RunID, event)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Failed to publish run finished event", "error", err)
	}
}
