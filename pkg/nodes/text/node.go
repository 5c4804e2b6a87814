// Package text provides the text node, a static source of text for downstream nodes.
package text

import (
	"context"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/models"
)

// Type is the node type handled by Node.
const Type = "textNode"

// Node emits its configured text.
type Node struct{}

// New creates a text node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Text"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Emits a static block of text, or the text of its default input when none is configured"
}

// Schema returns the JSON schema for text node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Text passed to downstream nodes",
				"examples":    []string{"A watercolor fox in a snowy forest"},
			},
		},
	}
}

// Execute returns {"text": ...}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	text, _ := config["text"].(string)
	if text == "" {
		if upstream, ok := inputs[models.DefaultHandle]; ok {
			text, _ = executor.Text(upstream)
		}
	}

	return map[string]any{"text": text}, nil
}
