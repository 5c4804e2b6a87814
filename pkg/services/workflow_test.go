package services

import (
	"testing"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/persistence/file"
	"github.com/dukex/canvasflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) persistence.Persistence {
	t.Helper()

	p, err := memory.NewPersistence()
	require.NoError(t, err)

	return p
}

func captionWorkflow() *models.Workflow {
	return &models.Workflow{
		Name: "Caption images",
		Nodes: []*models.Node{
			{ID: "prompt", Type: "textNode", Config: map[string]any{"text": "Describe the image"}},
			{Type: "imageNode", Config: map[string]any{"image_url": "https://cdn.example.com/cat.jpg"}},
			{Type: "llmNode"},
		},
		Edges: []*models.Edge{
			{Source: "prompt", Target: "node_2", TargetHandle: "user_message"},
			{Source: "node_1", Target: "node_2", TargetHandle: "image_url"},
		},
	}
}

func TestNewWorkflow(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	service := NewWorkflow(p)

	assert.NotNil(t, service)
	assert.Equal(t, p, service.persistence)

	msg, ok := service.HealthCheck(t.Context())
	assert.True(t, ok, msg)
}

func TestWorkflow_Create(t *testing.T) {
	service := NewWorkflow(newMemory(t))

	created, err := service.Create(t.Context(), captionWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())

	ids := []string{created.Nodes[0].ID, created.Nodes[1].ID, created.Nodes[2].ID}
	assert.Equal(t, []string{"prompt", "node_1", "node_2"}, ids)
	assert.Equal(t, "edge_1", created.Edges[0].ID)
	assert.Equal(t, "edge_2", created.Edges[1].ID)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
	assert.Len(t, fetched.Nodes, 3)
}

func TestWorkflow_CreateRejectsInvalidWorkflows(t *testing.T) {
	service := NewWorkflow(newMemory(t))

	tests := []struct {
		name   string
		mutate func(*models.Workflow)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "short name",
			mutate: func(w *models.Workflow) { w.Name = "x" },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				assert.Contains(t, err.Error(), "Name")
			},
		},
		{
			name:   "missing node type",
			mutate: func(w *models.Workflow) { w.Nodes[0].Type = "" },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			},
		},
		{
			name: "cycle",
			mutate: func(w *models.Workflow) {
				w.Edges = append(w.Edges, &models.Edge{Source: "node_2", Target: "prompt"})
			},
			check: func(t *testing.T, err error) {
				assert.Equal(t, failure.CodeCyclicGraph, failure.CodeOf(err))
			},
		},
		{
			name:   "dangling edge",
			mutate: func(w *models.Workflow) { w.Edges[0].Target = "ghost" },
			check: func(t *testing.T, err error) {
				assert.Equal(t, failure.CodeDanglingEdge, failure.CodeOf(err))
			},
		},
		{
			name:   "bad schedule",
			mutate: func(w *models.Workflow) { w.Schedule = "every monday" },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := captionWorkflow()
			tt.mutate(wf)

			_, err := service.Create(t.Context(), wf)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			tt.check(t, err)
		})
	}

	_, err := service.Create(t.Context(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNil)

	all, err := service.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWorkflow_Update(t *testing.T) {
	service := NewWorkflow(newMemory(t))

	created, err := service.Create(t.Context(), captionWorkflow())
	require.NoError(t, err)

	changed := captionWorkflow()
	changed.Name = "Caption images nightly"
	changed.Schedule = "0 3 * * *"

	updated, err := service.Update(t.Context(), created.ID, changed)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Caption images nightly", fetched.Name)
	assert.Equal(t, "0 3 * * *", fetched.Schedule)

	_, err = service.Update(t.Context(), "missing", captionWorkflow())
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflow_Delete(t *testing.T) {
	service := NewWorkflow(newMemory(t))

	created, err := service.Create(t.Context(), captionWorkflow())
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
