// Package executor defines the node executor contract and the type-keyed registry that dispatches to it.
package executor

import (
	"context"
)

// Executor runs one node type. It receives private copies of the node config
// and of its resolved inputs, keyed by input handle, and returns an output
// bundle or an error. Executors never record run state themselves.
type Executor interface {
	Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	return f(ctx, config, inputs)
}

// Describer is implemented by executors that publish metadata and a JSON
// schema for their config. Dispatch validates config against the schema.
type Describer interface {
	Name() string
	Description() string
	Schema() map[string]any
}

// TypeInfo is the public description of a registered node type.
type TypeInfo struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Passthrough is the executor used for unregistered node types: it returns
// the merge of its inputs and its config, config keys winning.
func Passthrough() Executor {
	return Func(func(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(inputs)+len(config))
		for k, v := range inputs {
			out[k] = v
		}

		for k, v := range config {
			out[k] = v
		}

		return out, nil
	})
}
