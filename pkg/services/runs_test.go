package services

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/mocks"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRuns(t *testing.T, opts ...RunsOption) (*Runs, persistence.Persistence, *mocks.MockEventBus) {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	store := newMemory(t)

	return NewRuns(store, bus, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), store, bus
}

func inlineChain() SubmitRunRequest {
	return SubmitRunRequest{
		Nodes: []models.Node{
			{ID: "a", Type: "textNode", Config: map[string]any{"text": "hello"}},
			{ID: "b", Type: "llmNode"},
		},
		Edges: []models.Edge{{Source: "a", Target: "b"}},
	}
}

func TestRuns_SubmitInlineGraph(t *testing.T) {
	runs, store, bus := newRuns(t)

	run, err := runs.Submit(t.Context(), inlineChain())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunStatusPending, run.Status)

	stored, err := store.RunRepository().WorkflowRun(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, stored.Status)

	bus.AssertCalled(t, "Publish", mock.Anything, run.ID, mock.AnythingOfType("events.RunRequested"))
	require.Len(t, bus.Published(), 1)

	requested, ok := bus.Published()[0].(events.RunRequested)
	require.True(t, ok)
	assert.Equal(t, run.ID, requested.RunID)
	assert.Equal(t, events.RunRequestedEvent, requested.Type)
	assert.Equal(t, inlineChain().Nodes, requested.Nodes)
	assert.Equal(t, inlineChain().Edges, requested.Edges)
	assert.False(t, requested.StrictHandles)
}

func TestRuns_SubmitSavedWorkflow(t *testing.T) {
	runs, store, bus := newRuns(t)

	wf, err := NewWorkflow(store).Create(t.Context(), captionWorkflow())
	require.NoError(t, err)

	run, err := runs.SubmitWorkflow(t.Context(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, run.WorkflowID)

	requested := bus.Published()[0].(events.RunRequested)
	assert.Equal(t, wf.ID, requested.WorkflowID)
	assert.Len(t, requested.Nodes, 3)

	_, err = runs.SubmitWorkflow(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestRuns_SubmitRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   SubmitRunRequest
		opts  []RunsOption
		check func(t *testing.T, err error)
	}{
		{
			name: "nothing to run",
			req:  SubmitRunRequest{},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrGraphRequired)
			},
		},
		{
			name: "workflow and graph",
			req:  SubmitRunRequest{WorkflowID: "wf", Nodes: []models.Node{{ID: "a", Type: "textNode"}}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrAmbiguousRequest)
			},
		},
		{
			name: "cycle",
			req: SubmitRunRequest{
				Nodes: []models.Node{{ID: "a", Type: "textNode"}, {ID: "b", Type: "textNode"}},
				Edges: []models.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, failure.IsConfig(err))
			},
		},
		{
			name: "shared handle in strict mode",
			req: SubmitRunRequest{
				Nodes: []models.Node{{ID: "a", Type: "textNode"}, {ID: "b", Type: "textNode"}, {ID: "c", Type: "llmNode"}},
				Edges: []models.Edge{{Source: "a", Target: "c"}, {Source: "b", Target: "c"}},
			},
			opts: []RunsOption{WithStrictHandles()},
			check: func(t *testing.T, err error) {
				assert.Equal(t, failure.CodeDuplicateHandle, failure.CodeOf(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, store, bus := newRuns(t, tt.opts...)

			_, err := runs.Submit(t.Context(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			tt.check(t, err)

			all, err := store.RunRepository().ListWorkflowRuns(t.Context(), 0)
			require.NoError(t, err)
			assert.Empty(t, all)
			bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRuns_SubmitEmptyGraph(t *testing.T) {
	runs, _, bus := newRuns(t)

	_, err := runs.Submit(t.Context(), SubmitRunRequest{Nodes: []models.Node{}})
	require.NoError(t, err)
	assert.Len(t, bus.Published(), 1)
}

func TestRuns_SubmitMarksRunFailedWhenQueueIsDown(t *testing.T) {
	store := newMemory(t)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	runs := NewRuns(store, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := runs.Submit(t.Context(), inlineChain())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	all, err := store.RunRepository().ListWorkflowRuns(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RunStatusFailed, all[0].Status)
	assert.Contains(t, all[0].Error, "failed to enqueue run")
}

func TestRuns_GetAndList(t *testing.T) {
	runs, store, _ := newRuns(t)

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	runs.now = func() time.Time {
		clock = clock.Add(time.Minute)

		return clock
	}

	first, err := runs.Submit(t.Context(), inlineChain())
	require.NoError(t, err)
	second, err := runs.Submit(t.Context(), inlineChain())
	require.NoError(t, err)

	require.NoError(t, store.RunRepository().CreateNodeRun(t.Context(), &models.NodeRun{
		NodeID: "a", WorkflowRunID: first.ID, NodeType: "textNode", Status: models.RunStatusPending,
	}))

	details, err := runs.Get(t.Context(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, details.ID)
	require.Len(t, details.NodeRuns, 1)
	assert.Equal(t, "a", details.NodeRuns[0].NodeID)

	details, err = runs.Get(t.Context(), second.ID)
	require.NoError(t, err)
	assert.NotNil(t, details.NodeRuns)
	assert.Empty(t, details.NodeRuns)

	_, err = runs.Get(t.Context(), "missing")
	assert.True(t, persistence.IsRunNotFound(err))

	list, err := runs.List(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = runs.List(t.Context(), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRuns_Cancel(t *testing.T) {
	runs, store, bus := newRuns(t)

	run, err := runs.Submit(t.Context(), inlineChain())
	require.NoError(t, err)

	require.NoError(t, runs.Cancel(t.Context(), run.ID, "user request"))
	require.Len(t, bus.Published(), 2)

	cancel, ok := bus.Published()[1].(events.RunCancelRequested)
	require.True(t, ok)
	assert.Equal(t, run.ID, cancel.RunID)
	assert.Equal(t, "user request", cancel.Reason)
	bus.AssertCalled(t, "Publish", mock.Anything, run.ID, mock.AnythingOfType("events.RunCancelRequested"))

	require.NoError(t, store.RunRepository().UpdateWorkflowRunStatus(t.Context(), run.ID, models.RunStatusRunning, ""))
	require.NoError(t, store.RunRepository().UpdateWorkflowRunStatus(t.Context(), run.ID, models.RunStatusCompleted, ""))

	err = runs.Cancel(t.Context(), run.ID, "")
	require.ErrorIs(t, err, ErrRunFinished)
	assert.True(t, IsConflictError(err))

	err = runs.Cancel(t.Context(), "missing", "")
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRuns_StoreErrors(t *testing.T) {
	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}
	runs := NewRuns(store, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	store.Runs.On("ListWorkflowRuns", mock.Anything, MaxRunListLimit).Return(nil, errors.New("connection reset"))
	store.Runs.On("CreateWorkflowRun", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	_, err := runs.List(t.Context(), 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list runs")

	_, err = runs.Submit(t.Context(), inlineChain())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, IsValidationError(err))

	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	store.Runs.AssertExpectations(t)
}
