// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/runstate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// RunContract exercises the repository contract against a backend.
func RunContract(t *testing.T, newPersistence Factory) {
	t.Helper()

	t.Run("workflow run lifecycle", func(t *testing.T) {
		testWorkflowRunLifecycle(t, newPersistence(t))
	})
	t.Run("node run lifecycle", func(t *testing.T) {
		testNodeRunLifecycle(t, newPersistence(t))
	})
	t.Run("rejected transitions", func(t *testing.T) {
		testRejectedTransitions(t, newPersistence(t))
	})
	t.Run("missing records", func(t *testing.T) {
		testMissingRecords(t, newPersistence(t))
	})
	t.Run("list runs newest first", func(t *testing.T) {
		testListRuns(t, newPersistence(t))
	})
	t.Run("workflows", func(t *testing.T) {
		testWorkflows(t, newPersistence(t))
	})
}

func newRun(startedAt time.Time) *models.WorkflowRun {
	return &models.WorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: "wf-1",
		Status:     models.RunStatusPending,
		StartedAt:  startedAt,
	}
}

func testWorkflowRunLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	runs := p.RunRepository()

	run := newRun(time.Now().UTC().Add(-time.Second))
	require.NoError(t, runs.CreateWorkflowRun(ctx, run))

	err := runs.CreateWorkflowRun(ctx, run)
	require.ErrorIs(t, err, persistence.ErrRunAlreadyExists)

	require.NoError(t, runs.UpdateWorkflowRunStatus(ctx, run.ID, models.RunStatusRunning, ""))

	got, err := runs.WorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, runs.UpdateWorkflowRunStatus(ctx, run.ID, models.RunStatusFailed, "node b failed"))

	got, err = runs.WorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "node b failed", got.Error)
	assert.Equal(t, "wf-1", got.WorkflowID)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func testNodeRunLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	runs := p.RunRepository()

	run := newRun(time.Now().UTC())
	require.NoError(t, runs.CreateWorkflowRun(ctx, run))

	for _, id := range []string{"prompt", "llm", "crop"} {
		require.NoError(t, runs.CreateNodeRun(ctx, &models.NodeRun{
			NodeID:        id,
			WorkflowRunID: run.ID,
			NodeType:      "textNode",
			Status:        models.RunStatusPending,
		}))
	}

	err := runs.CreateNodeRun(ctx, &models.NodeRun{NodeID: "llm", WorkflowRunID: run.ID, Status: models.RunStatusPending})
	require.ErrorIs(t, err, persistence.ErrRunAlreadyExists)

	start := time.Now().UTC()
	inputs := map[string]any{"default": map[string]any{"text": "describe the cat"}}
	require.NoError(t, runs.UpdateNodeRunStatus(ctx, run.ID, "llm", models.NodeRunUpdate{
		Status: models.RunStatusRunning,
		At:     start,
		Inputs: inputs,
	}))
	require.NoError(t, runs.UpdateNodeRunStatus(ctx, run.ID, "llm", models.NodeRunUpdate{
		Status:  models.RunStatusCompleted,
		At:      start.Add(50 * time.Millisecond),
		Outputs: map[string]any{"response": "a cat", "tokens": 12.0},
	}))
	require.NoError(t, runs.UpdateNodeRunStatus(ctx, run.ID, "crop", models.NodeRunUpdate{
		Status: models.RunStatusFailed,
		At:     start,
		Error:  "x_percent out of range",
	}))

	nodeRuns, err := runs.NodeRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, nodeRuns, 3)

	assert.Equal(t, []string{"prompt", "llm", "crop"}, []string{nodeRuns[0].NodeID, nodeRuns[1].NodeID, nodeRuns[2].NodeID})

	assert.Equal(t, models.RunStatusPending, nodeRuns[0].Status)
	assert.Nil(t, nodeRuns[0].StartedAt)

	llm := nodeRuns[1]
	assert.Equal(t, models.RunStatusCompleted, llm.Status)
	assert.Equal(t, "textNode", llm.NodeType)
	assert.Equal(t, inputs, llm.Inputs)
	assert.Equal(t, map[string]any{"response": "a cat", "tokens": 12.0}, llm.Outputs)
	require.NotNil(t, llm.StartedAt)
	require.NotNil(t, llm.CompletedAt)
	assert.WithinDuration(t, start, *llm.StartedAt, time.Millisecond)
	assert.False(t, llm.CompletedAt.Before(*llm.StartedAt))

	crop := nodeRuns[2]
	assert.Equal(t, models.RunStatusFailed, crop.Status)
	assert.Equal(t, "x_percent out of range", crop.Error)
	assert.NotNil(t, crop.CompletedAt)
}

func testRejectedTransitions(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	runs := p.RunRepository()

	run := newRun(time.Now().UTC())
	require.NoError(t, runs.CreateWorkflowRun(ctx, run))
	require.NoError(t, runs.CreateNodeRun(ctx, &models.NodeRun{NodeID: "a", WorkflowRunID: run.ID, Status: models.RunStatusPending}))

	err := runs.UpdateNodeRunStatus(ctx, run.ID, "a", models.NodeRunUpdate{Status: models.RunStatusCompleted})
	require.Error(t, err)
	assert.True(t, runstate.IsInvalidTransition(err))

	require.NoError(t, runs.UpdateNodeRunStatus(ctx, run.ID, "a", models.NodeRunUpdate{Status: models.RunStatusRunning}))
	require.NoError(t, runs.UpdateNodeRunStatus(ctx, run.ID, "a", models.NodeRunUpdate{
		Status:  models.RunStatusCompleted,
		Outputs: map[string]any{"text": "done"},
	}))

	err = runs.UpdateNodeRunStatus(ctx, run.ID, "a", models.NodeRunUpdate{Status: models.RunStatusFailed, Error: "late"})
	require.Error(t, err)
	assert.True(t, runstate.IsInvalidTransition(err))

	nodeRuns, err := runs.NodeRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, nodeRuns, 1)
	assert.Equal(t, models.RunStatusCompleted, nodeRuns[0].Status)
	assert.Empty(t, nodeRuns[0].Error)

	require.NoError(t, runs.UpdateWorkflowRunStatus(ctx, run.ID, models.RunStatusRunning, ""))
	require.NoError(t, runs.UpdateWorkflowRunStatus(ctx, run.ID, models.RunStatusCompleted, ""))

	err = runs.UpdateWorkflowRunStatus(ctx, run.ID, models.RunStatusFailed, "again")
	require.Error(t, err)
	assert.True(t, runstate.IsInvalidTransition(err))

	got, err := runs.WorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}

func testMissingRecords(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	runs := p.RunRepository()

	_, err := runs.WorkflowRun(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))

	_, err = runs.NodeRuns(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))

	err = runs.UpdateWorkflowRunStatus(ctx, "missing", models.RunStatusRunning, "")
	assert.True(t, persistence.IsRunNotFound(err))

	err = runs.CreateNodeRun(ctx, &models.NodeRun{NodeID: "a", WorkflowRunID: "missing", Status: models.RunStatusPending})
	assert.True(t, persistence.IsRunNotFound(err))

	run := newRun(time.Now().UTC())
	require.NoError(t, runs.CreateWorkflowRun(ctx, run))

	err = runs.UpdateNodeRunStatus(ctx, run.ID, "ghost", models.NodeRunUpdate{Status: models.RunStatusRunning})
	assert.True(t, persistence.IsNodeRunNotFound(err))

	nodeRuns, err := runs.NodeRuns(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, nodeRuns)
}

func testListRuns(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	runs := p.RunRepository()

	base := time.Now().UTC().Truncate(time.Second)

	var ids []string

	for i := range 4 {
		run := newRun(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, runs.CreateWorkflowRun(ctx, run))
		ids = append(ids, run.ID)
	}

	all, err := runs.ListWorkflowRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID)
	assert.Equal(t, ids[0], all[3].ID)

	limited, err := runs.ListWorkflowRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[3], limited[0].ID)
	assert.Equal(t, ids[2], limited[1].ID)
}

func testWorkflows(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	workflows := p.WorkflowRepository()

	_, err := workflows.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	assert.True(t, persistence.IsWorkflowNotFound(workflows.Delete(ctx, "missing")))

	wf := &models.Workflow{
		ID:    uuid.NewString(),
		Name:  "Caption images",
		Owner: "ada",
		Nodes: []*models.Node{
			{ID: "node_1", Type: "textNode", Config: map[string]any{"text": "describe"}},
			{ID: "node_2", Type: "llmNode", Config: map[string]any{"model": "gemini-pro"}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "node_1", Target: "node_2", TargetHandle: "user_message"},
		},
	}
	require.NoError(t, workflows.Save(ctx, wf))
	assert.False(t, wf.CreatedAt.IsZero())
	assert.False(t, wf.UpdatedAt.IsZero())

	created := wf.CreatedAt

	got, err := workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, "ada", got.Owner)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "describe", got.Nodes[0].Config["text"])
	require.Len(t, got.Edges, 1)
	assert.Equal(t, "user_message", got.Edges[0].TargetHandle)

	wf.Name = "Caption every image"
	require.NoError(t, workflows.Save(ctx, wf))
	assert.WithinDuration(t, created, wf.CreatedAt, time.Millisecond)

	list, err := workflows.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Caption every image", list[0].Name)

	require.NoError(t, workflows.Delete(ctx, wf.ID))

	list, err = workflows.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
