package crop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const source = "https://cdn.example.com/photo.jpg"

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  map[string]any
		inputs  map[string]any
		want    Region
		wantErr string
	}{
		{
			name:   "defaults to full image",
			config: map[string]any{"image_url": source},
			want:   Region{X: 0, Y: 0, Width: 100, Height: 100},
		},
		{
			name:   "config values",
			config: map[string]any{"image_url": source, "x": 10.0, "y": "20", "width": 50.0, "height": 40.0},
			want:   Region{X: 10, Y: 20, Width: 50, Height: 40},
		},
		{
			name:   "handles win over config",
			config: map[string]any{"x": 10.0, "width": 50.0},
			inputs: map[string]any{
				"image_url":     map[string]any{"image_url": source},
				"x_percent":     map[string]any{"text": "30"},
				"width_percent": 20.0,
			},
			want: Region{X: 30, Y: 0, Width: 20, Height: 100},
		},
		{
			name:    "out of range",
			config:  map[string]any{"image_url": source, "x": 120.0},
			wantErr: "x must be between 0 and 100",
		},
		{
			name:    "overflows right edge",
			config:  map[string]any{"image_url": source, "x": 60.0, "width": 50.0},
			wantErr: "x + width exceeds 100",
		},
		{
			name:    "empty region",
			config:  map[string]any{"image_url": source, "height": 0.0},
			wantErr: "is empty",
		},
		{
			name:    "not a number",
			config:  map[string]any{"image_url": source, "y": "top"},
			wantErr: "invalid y",
		},
		{
			name:    "no image",
			config:  map[string]any{"x": 10.0},
			wantErr: "missing media url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := New().Execute(context.Background(), tt.config, tt.inputs)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, source, out["image_url"])
			assert.Equal(t, tt.want.Map(), out["crop"])
		})
	}
}
