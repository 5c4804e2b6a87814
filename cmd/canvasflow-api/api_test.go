package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/cmd"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/dukex/canvasflow/pkg/persistence/memory"
	"github.com/dukex/canvasflow/pkg/services"
	"github.com/dukex/canvasflow/pkg/worker"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := memory.NewPersistence()
	require.NoError(t, err)

	eventBus, err := cmd.NewEventBus(cmd.EventBusGoChannel, logger, "canvasflow-api-test", "")
	require.NoError(t, err)

	registry := cmd.NewRegistry(logger, cmd.RegistryConfig{})

	ctx, cancel := context.WithCancel(context.Background())

	manager := worker.NewManager("api-test", store, eventBus, registry, logger, otelhelper.Noop())
	require.NoError(t, manager.Start(ctx))

	t.Cleanup(func() {
		cancel()
		manager.Wait()
		_ = eventBus.Close()
	})

	return NewAPI(logger, store, registry, eventBus).App()
}

func request(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestAPI_Root(t *testing.T) {
	app := setupApp(t)

	status, body := request(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "canvasflow API", string(body))

	status, _ = request(t, app, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_NodeTypesListsNativeNodes(t *testing.T) {
	app := setupApp(t)

	status, body := request(t, app, http.MethodGet, "/node-types", nil)
	require.Equal(t, http.StatusOK, status)

	for _, nodeType := range []string{"textNode", "llmNode", "imageNode", "videoNode", "cropNode", "extractNode", "transformNode"} {
		assert.Contains(t, string(body), `"`+nodeType+`"`)
	}
}

func TestAPI_InlineRunCompletes(t *testing.T) {
	app := setupApp(t)

	status, body := request(t, app, http.MethodPost, "/runs", services.SubmitRunRequest{
		Nodes: []models.Node{
			{ID: "prompt", Type: "textNode", Config: map[string]any{"text": "a red fox"}},
			{ID: "shout", Type: "transformNode", Config: map[string]any{"expression": "{{ upper .input.text }}"}},
			{ID: "photo", Type: "imageNode", Config: map[string]any{"image_url": "https://cdn.example.com/fox.jpg"}},
			{ID: "crop", Type: "cropNode", Config: map[string]any{"x": 10, "y": 10, "width": 50, "height": 50}},
		},
		Edges: []models.Edge{
			{Source: "prompt", Target: "shout"},
			{Source: "photo", Target: "crop"},
		},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))

	var details services.RunDetails

	require.Eventually(t, func() bool {
		status, body := request(t, app, http.MethodGet, "/runs/"+run.ID, nil)
		if status != http.StatusOK {
			return false
		}

		details = services.RunDetails{}
		if err := json.Unmarshal(body, &details); err != nil {
			return false
		}

		return details.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, models.RunStatusCompleted, details.Status, details.Error)
	require.Len(t, details.NodeRuns, 4)

	outputs := make(map[string]map[string]any)
	for _, nr := range details.NodeRuns {
		assert.Equal(t, models.RunStatusCompleted, nr.Status, nr.NodeID)
		outputs[nr.NodeID] = nr.Outputs
	}

	assert.Equal(t, "A RED FOX", outputs["shout"]["result"])
	assert.Equal(t, "https://cdn.example.com/fox.jpg", outputs["crop"]["image_url"])
}

func TestAPI_LLMRunWithoutKeyFails(t *testing.T) {
	app := setupApp(t)

	status, body := request(t, app, http.MethodPost, "/runs", services.SubmitRunRequest{
		Nodes: []models.Node{
			{ID: "prompt", Type: "textNode", Config: map[string]any{"text": "hello"}},
			{ID: "llm", Type: "llmNode"},
			{ID: "after", Type: "textNode"},
		},
		Edges: []models.Edge{
			{Source: "prompt", Target: "llm", TargetHandle: "user_message"},
			{Source: "llm", Target: "after"},
		},
	})
	require.Equal(t, http.StatusAccepted, status, string(body))

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))

	var details services.RunDetails

	require.Eventually(t, func() bool {
		_, body := request(t, app, http.MethodGet, "/runs/"+run.ID, nil)
		details = services.RunDetails{}

		return json.Unmarshal(body, &details) == nil && details.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, models.RunStatusFailed, details.Status)

	byID := make(map[string]*models.NodeRun)
	for _, nr := range details.NodeRuns {
		byID[nr.NodeID] = nr
	}

	assert.Equal(t, models.RunStatusCompleted, byID["prompt"].Status)
	assert.Equal(t, models.RunStatusFailed, byID["llm"].Status)
	assert.Contains(t, byID["llm"].Error, "GEMINI_API_KEY")
	assert.Equal(t, models.RunStatusPending, byID["after"].Status)
}
