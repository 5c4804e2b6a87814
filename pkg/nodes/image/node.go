// Package image provides the image node, which publishes an image reference to the graph.
package image

import (
	"context"

	"github.com/dukex/canvasflow/pkg/nodes/media"
)

// Type is the node type handled by Node.
const Type = "imageNode"

// Node emits a validated image_url.
type Node struct{}

// New creates an image node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Image"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Publishes an image URL for downstream nodes"
}

// Schema returns the JSON schema for image node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image_url": map[string]any{
				"type":        "string",
				"description": "Absolute URL or data URI of the image",
			},
			"imageUrl": map[string]any{
				"type":        "string",
				"description": "Alias of image_url",
			},
		},
	}
}

// Execute returns {"image_url": ...}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	url, err := media.URL(config, inputs, "image_url")
	if err != nil {
		return nil, err
	}

	return map[string]any{"image_url": url}, nil
}
