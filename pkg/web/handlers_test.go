package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/persistence/file"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/dukex/canvasflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct {
	published []eventbus.Event
}

func (p *nopPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.published = append(p.published, event)

	return nil
}

type testAPI struct {
	app         *fiber.App
	persistence persistence.Persistence
	publisher   *nopPublisher
}

func setupTestApp(t *testing.T) *testAPI {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := file.NewPersistence(t.TempDir())
	publisher := &nopPublisher{}

	registry := executor.NewRegistry(logger)
	registry.Register("textNode", executor.Passthrough())

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(p),
		services.NewRuns(p, publisher, logger),
		validator.New(validator.WithRequiredStructEnabled()),
		registry,
	)

	app := fiber.New()
	handlers.Register(app)

	return &testAPI{app: app, persistence: p, publisher: publisher}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func chainRequest() web.WorkflowRequest {
	return web.WorkflowRequest{
		Name: "Describe image",
		Nodes: []*models.Node{
			{ID: "prompt", Type: "textNode", Config: map[string]any{"text": "What is this?"}},
			{ID: "llm", Type: "llmNode"},
		},
		Edges: []*models.Edge{{Source: "prompt", Target: "llm", TargetHandle: "user_message"}},
	}
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedError  string
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "successful creation",
			requestBody:    chainRequest(),
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var workflow models.Workflow
				require.NoError(t, json.Unmarshal(body, &workflow))
				assert.NotEmpty(t, workflow.ID)
				assert.Equal(t, "Describe image", workflow.Name)
				assert.Len(t, workflow.Nodes, 2)
				require.Len(t, workflow.Edges, 1)
				assert.NotEmpty(t, workflow.Edges[0].ID)
			},
		},
		{
			name:           "name too short",
			requestBody:    web.WorkflowRequest{Name: "ab"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Name",
		},
		{
			name: "cyclic graph",
			requestBody: web.WorkflowRequest{
				Name:  "Loop",
				Nodes: []*models.Node{{ID: "a", Type: "textNode"}, {ID: "b", Type: "textNode"}},
				Edges: []*models.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "CyclicGraph",
		},
		{
			name:           "invalid schedule",
			requestBody:    web.WorkflowRequest{Name: "Nightly", Schedule: "every day"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "schedule",
		},
		{
			name:           "invalid json",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t)

			resp, body := api.do(t, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	resp, body := api.do(t, http.MethodPost, "/workflows", chainRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Workflow
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body = api.do(t, http.MethodGet, "/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Describe image")

	update := chainRequest()
	update.Name = "Describe photo"

	resp, body = api.do(t, http.MethodPut, "/workflows/"+created.ID, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Describe photo")

	resp, body = api.do(t, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []models.Workflow
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	resp, _ = api.do(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "workflow_not_found")

	resp, _ = api.do(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_Runs(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	resp, body := api.do(t, http.MethodPost, "/workflows", chainRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	resp, body = api.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, workflow.ID, run.WorkflowID)

	resp, body = api.do(t, http.MethodPost, "/runs", services.SubmitRunRequest{
		Nodes: []models.Node{{ID: "only", Type: "textNode"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	resp, body = api.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var details services.RunDetails
	require.NoError(t, json.Unmarshal(body, &details))
	assert.Equal(t, run.ID, details.ID)
	assert.NotNil(t, details.NodeRuns)

	resp, body = api.do(t, http.MethodGet, "/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page web.RunListResponse
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Len(t, page.Runs, 1)
	assert.Equal(t, 1, page.Limit)

	resp, _ = api.do(t, http.MethodGet, "/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = api.do(t, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{Reason: "not needed"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	assert.Len(t, api.publisher.published, 3)

	resp, body = api.do(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "run_not_found")
}

func TestAPIHandlers_SubmitRunRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{name: "empty body", requestBody: map[string]any{}, expectedStatus: http.StatusBadRequest},
		{
			name: "workflow and graph",
			requestBody: services.SubmitRunRequest{
				WorkflowID: "wf-1",
				Nodes:      []models.Node{{ID: "a", Type: "textNode"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "dangling edge",
			requestBody: services.SubmitRunRequest{
				Nodes: []models.Node{{ID: "a", Type: "textNode"}},
				Edges: []models.Edge{{Source: "a", Target: "ghost"}},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown workflow",
			requestBody:    services.SubmitRunRequest{WorkflowID: "missing"},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t)

			resp, body := api.do(t, http.MethodPost, "/runs", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))
			assert.Empty(t, api.publisher.published)
		})
	}
}

func TestAPIHandlers_CancelFinishedRun(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, api.persistence.RunRepository().CreateWorkflowRun(ctx, &models.WorkflowRun{
		ID: "done", Status: models.RunStatusPending,
	}))
	require.NoError(t, api.persistence.RunRepository().UpdateWorkflowRunStatus(ctx, "done", models.RunStatusFailed, "boom"))

	resp, body := api.do(t, http.MethodPost, "/runs/done/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "already")
}

func TestAPIHandlers_NodeTypesAndHealth(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	resp, body := api.do(t, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []executor.TypeInfo
	require.NoError(t, json.Unmarshal(body, &types))
	require.Len(t, types, 1)
	assert.Equal(t, "textNode", types[0].Type)

	resp, body = api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
