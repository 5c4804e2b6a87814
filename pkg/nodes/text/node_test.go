package text

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config map[string]any
		inputs map[string]any
		want   string
	}{
		{
			name:   "configured text",
			config: map[string]any{"text": "hello"},
			want:   "hello",
		},
		{
			name:   "config wins over input",
			config: map[string]any{"text": "hello"},
			inputs: map[string]any{"default": map[string]any{"text": "upstream"}},
			want:   "hello",
		},
		{
			name:   "falls back to default input",
			config: map[string]any{},
			inputs: map[string]any{"default": map[string]any{"response": "from llm"}},
			want:   "from llm",
		},
		{
			name: "nothing configured",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := New().Execute(context.Background(), tt.config, tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"text": tt.want}, out)
		})
	}
}

func TestNode_Metadata(t *testing.T) {
	n := New()
	assert.Equal(t, "Text", n.Name())
	assert.NotEmpty(t, n.Description())
	assert.Equal(t, "object", n.Schema()["type"])
}
