// Package transform provides the transform node, which reshapes upstream outputs with Go templates.
package transform

import (
	"context"
	"errors"
	"fmt"
	gotemplate "text/template"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/template"
)

// Type is the node type handled by Node.
const Type = "transformNode"

// Node renders its expression against the node inputs and config.
type Node struct{}

// New creates a transform node executor.
func New() *Node {
	return &Node{}
}

// Name returns the display name.
func (n *Node) Name() string {
	return "Transform"
}

// Description returns the node description.
func (n *Node) Description() string {
	return "Transforms upstream outputs using Go templates with access to inputs and config"
}

// Schema returns the JSON schema for transform node configuration.
func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Go template rendered with .inputs (by handle), .input (the default handle) and .config",
				"examples": []string{
					`{{ .input.text | upper }}`,
					`{"caption": "{{ text .inputs.default }}", "image": "{{ .inputs.image_url.image_url }}"}`,
					`{{ .config.prefix }} {{ .input.response }}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}

// Execute returns {"result": ...}.
func (n *Node) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	expression, ok := config["expression"].(string)
	if !ok {
		return nil, errors.New("missing required field 'expression'")
	}

	data := map[string]any{
		"inputs": inputs,
		"input":  inputs[models.DefaultHandle],
		"config": config,
	}

	result, err := template.Render(expression, data, gotemplate.FuncMap{
		"text": func(v any) string {
			s, _ := executor.Text(v)

			return s
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	return map[string]any{"result": result}, nil
}
