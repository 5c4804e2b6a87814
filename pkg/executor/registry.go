package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Registry maps node type strings to executors.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRegistry creates an empty registry whose fallback is Passthrough.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		executors: make(map[string]Executor),
		fallback:  Passthrough(),
	}
}

// Register binds nodeType to exec, replacing any previous binding.
func (r *Registry) Register(nodeType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors[nodeType] = exec
}

// Lookup returns the executor for nodeType. Unknown types get the fallback
// executor and ok is false.
func (r *Registry) Lookup(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return r.fallback, false
	}

	return exec, true
}

// Types lists registered node types sorted by type.
func (r *Registry) Types() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]TypeInfo, 0, len(r.executors))
	for nodeType, exec := range r.executors {
		info := TypeInfo{Type: nodeType, Name: nodeType}
		if d, ok := exec.(Describer); ok {
			info.Name = d.Name()
			info.Description = d.Description()
			info.Schema = d.Schema()
		}

		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b TypeInfo) int { return strings.Compare(a.Type, b.Type) })

	return infos
}

// HealthCheck reports whether any executor is registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.executors) == 0 {
		return "Registry has no node executors", false
	}

	return fmt.Sprintf("Registry has %d node executors", len(r.executors)), true
}

// Dispatch runs node with inputs through the executor registered for its type.
// Config and inputs are deep-copied in, outputs deep-copied out. Any executor
// failure, including a panic or a config that fails the executor's schema,
// is returned as a failure.Error of KindExecution.
func (r *Registry) Dispatch(ctx context.Context, node models.Node, inputs map[string]any) (outputs map[string]any, err error) {
	exec, known := r.Lookup(node.Type)
	if !known {
		r.logger.DebugContext(ctx, "No executor registered, using passthrough",
			"node_id", node.ID, "node_type", node.Type)
	}

	config := models.CloneMap(node.Config)
	if config == nil {
		config = map[string]any{}
	}

	if d, ok := exec.(Describer); ok {
		if schemaErr := validateConfig(d.Schema(), config); schemaErr != nil {
			return nil, failure.Execution(node.ID, schemaErr)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Node executor panicked",
				"node_id", node.ID, "node_type", node.Type, "panic", rec, "stack", string(debug.Stack()))

			outputs = nil
			err = failure.Execution(node.ID, fmt.Errorf("executor panicked: %v", rec))
		}
	}()

	out, execErr := exec.Execute(ctx, config, models.CloneMap(inputs))
	if execErr != nil {
		var fe *failure.Error
		if errors.As(execErr, &fe) {
			return nil, execErr
		}

		return nil, failure.Execution(node.ID, execErr)
	}

	if out == nil {
		return map[string]any{}, nil
	}

	return models.CloneMap(out), nil
}

func validateConfig(schema map[string]any, config map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("invalid config schema: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}
