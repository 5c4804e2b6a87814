// Package crop provides the crop node, which describes a rectangular region of an image in percentages.
package crop

import (
	"context"
	"fmt"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/nodes/media"
)

// Type is the node type handled by Node.
const Type = "cropNode"

// Region is a crop rectangle expressed in percent of the source image.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Map returns the region as an output bundle.
func (r Region) Map() map[string]any {
	return map[string]any{
		"x":      r.X,
		"y":      r.Y,
		"width":  r.Width,
		"height": r.Height,
	}
}

// Validate checks that the region lies inside the image.
func (r Region) Validate() error {
	for _, c := range []struct {
		name  string
		value float64
	}{{"x", r.X}, {"y", r.Y}, {"width", r.Width}, {"height", r.Height}} {
		if c.value < 0 || c.value > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %g", c.name, c.value)
		}
	}

	if r.Width == 0 || r.Height == 0 {
		return fmt.Errorf("crop region %gx%g is empty", r.Width, r.Height)
	}

	if r.X+r.Width > 100 {
		return fmt.Errorf("x + width exceeds 100 (%g + %g)", r.X, r.Width)
	}

	if r.Y+r.Height > 100 {
		return fmt.Errorf("y + height exceeds 100 (%g + %g)", r.Y, r.Height)
	}

	return nil
}

// params maps each region field to its input handle, config key and default.
var params = []struct {
	handle string
	key    string
	def    float64
	set    func(*Region, float64)
}{
	{"x_percent", "x", 0, func(r *Region, v float64) { r.X = v }},
	{"y_percent", "y", 0, func(r *Region, v float64) { r.Y = v }},
	{"width_percent", "width", 100, func(r *Region, v float64) { r.Width = v }},
	{"height_percent", "height", 100, func(r *Region, v float64) { r.Height = v }},
}

// Node resolves a crop region for an upstream image.
type Node struct{}

// New creates a crop node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Crop Image"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Selects a region of an image using x, y, width and height percentages"
}

// Schema returns the JSON schema for crop node configuration.
func (n *Node) Schema() map[string]any {
	percent := func(desc string, def float64) map[string]any {
		return map[string]any{
			"type":        []string{"number", "string"},
			"description": desc,
			"default":     def,
		}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_url": map[string]any{
				"type":        "string",
				"description": "Image to crop when no image is connected to the image_url handle",
			},
			"x":      percent("Left edge in percent of the image width", 0),
			"y":      percent("Top edge in percent of the image height", 0),
			"width":  percent("Region width in percent", 100),
			"height": percent("Region height in percent", 100),
		},
		"examples": []map[string]any{
			{"x": 25, "y": 25, "width": 50, "height": 50},
		},
	}
}

// Execute returns {"image_url": ..., "crop": {"x", "y", "width", "height"}}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	url, err := media.URL(config, inputs, "image_url")
	if err != nil {
		return nil, err
	}

	region, err := ResolveRegion(config, inputs)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"image_url": url,
		"crop":      region.Map(),
	}, nil
}

// ResolveRegion reads each coordinate from its *_percent handle, then from
// config, then falls back to the full image.
func ResolveRegion(config, inputs map[string]any) (Region, error) {
	var region Region

	for _, p := range params {
		value := p.def

		if raw, ok := executor.Resolve(config, inputs, p.handle, p.key); ok {
			v, err := executor.Number(raw)
			if err != nil {
				return Region{}, fmt.Errorf("invalid %s: %w", p.key, err)
			}

			value = v
		}

		p.set(&region, value)
	}

	if err := region.Validate(); err != nil {
		return Region{}, err
	}

	return region, nil
}
