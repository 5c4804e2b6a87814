package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	inputs := map[string]any{
		"default":   map[string]any{"response": "a sleepy cat"},
		"image_url": map[string]any{"image_url": "https://cdn.example.com/cat.jpg"},
	}

	tests := []struct {
		name       string
		expression string
		want       any
	}{
		{
			name:       "string",
			expression: `{{ .input.response | upper }}`,
			want:       "A SLEEPY CAT",
		},
		{
			name:       "object",
			expression: `{"caption": "{{ text .inputs.default }}", "image": "{{ .inputs.image_url.image_url }}"}`,
			want: map[string]any{
				"caption": "a sleepy cat",
				"image":   "https://cdn.example.com/cat.jpg",
			},
		},
		{
			name:       "config access",
			expression: `{{ .config.count }}`,
			want:       3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := New().Execute(context.Background(), map[string]any{"expression": tt.expression, "count": 3}, inputs)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"result": tt.want}, out)
		})
	}
}

func TestNode_ExecuteErrors(t *testing.T) {
	t.Parallel()

	_, err := New().Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, "missing required field 'expression'", err.Error())

	_, err = New().Execute(context.Background(), map[string]any{"expression": "{{ .input.text "}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transformation failed")
}
