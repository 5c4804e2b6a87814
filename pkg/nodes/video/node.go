// Package video provides the video node, which publishes a video reference to the graph.
package video

import (
	"context"

	"github.com/dukex/canvasflow/pkg/nodes/media"
)

// Type is the node type handled by Node.
const Type = "videoNode"

// Node emits a validated video_url.
type Node struct{}

// New creates a video node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Video"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Publishes a video URL for downstream nodes"
}

// Schema returns the JSON schema for video node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"video_url": map[string]any{
				"type":        "string",
				"description": "Absolute URL or data URI of the video",
			},
			"videoUrl": map[string]any{
				"type":        "string",
				"description": "Alias of video_url",
			},
		},
	}
}

// Execute returns {"video_url": ...}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	url, err := media.URL(config, inputs, "video_url")
	if err != nil {
		return nil, err
	}

	return map[string]any{"video_url": url}, nil
}
