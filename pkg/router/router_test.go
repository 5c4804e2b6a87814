package router_test

import (
	"testing"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/router"
	"github.com/stretchr/testify/assert"
)

func TestBuildInputs(t *testing.T) {
	t.Parallel()

	outputs := map[string]map[string]any{
		"prompt": {"text": "describe"},
		"image":  {"image_url": "https://example.com/cat.png"},
		"late":   {"text": "override"},
	}

	tests := []struct {
		name     string
		incoming []models.Edge
		want     map[string]any
	}{
		{
			name:     "no incoming edges",
			incoming: nil,
			want:     map[string]any{},
		},
		{
			name:     "unset handle routes to default",
			incoming: []models.Edge{{Source: "prompt", Target: "llm"}},
			want:     map[string]any{"default": map[string]any{"text": "describe"}},
		},
		{
			name: "named handles",
			incoming: []models.Edge{
				{Source: "prompt", Target: "llm", TargetHandle: "user_message"},
				{Source: "image", Target: "llm", TargetHandle: "image"},
			},
			want: map[string]any{
				"user_message": map[string]any{"text": "describe"},
				"image":        map[string]any{"image_url": "https://example.com/cat.png"},
			},
		},
		{
			name: "last edge wins on shared handle",
			incoming: []models.Edge{
				{Source: "prompt", Target: "llm"},
				{Source: "late", Target: "llm"},
			},
			want: map[string]any{"default": map[string]any{"text": "override"}},
		},
		{
			name:     "source without output is skipped",
			incoming: []models.Edge{{Source: "never-ran", Target: "llm"}},
			want:     map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, router.BuildInputs(tt.incoming, outputs))
		})
	}
}

func TestBuildInputs_CopiesOutputs(t *testing.T) {
	t.Parallel()

	outputs := map[string]map[string]any{"a": {"text": "original"}}
	inputs := router.BuildInputs([]models.Edge{{Source: "a", Target: "b"}}, outputs)

	inputs["default"].(map[string]any)["text"] = "mutated"

	assert.Equal(t, "original", outputs["a"]["text"])
}

func TestShadowed(t *testing.T) {
	t.Parallel()

	assert.Nil(t, router.Shadowed([]models.Edge{
		{Source: "a", Target: "c", TargetHandle: "x"},
		{Source: "b", Target: "c", TargetHandle: "y"},
	}))

	assert.Equal(t, map[string][]string{"default": {"a", "b"}}, router.Shadowed([]models.Edge{
		{Source: "a", Target: "d"},
		{Source: "b", Target: "d"},
		{Source: "c", Target: "d"},
	}))
}
