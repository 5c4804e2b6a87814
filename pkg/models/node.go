// Package models defines the core domain models for graph-based workflow execution.
package models

// DefaultHandle is the input key used for edges that declare no target handle.
const DefaultHandle = "default"

// Node is a typed processing step in a workflow graph.
type Node struct {
	ID     string         `json:"id"               validate:"required"`
	Type   string         `json:"type"             validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge is a data dependency: Target may not execute until Source has produced output.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"                  validate:"required"`
	Target       string `json:"target"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// InputKey returns the input bundle key the edge writes into on its target.
func (e Edge) InputKey() string {
	if e.TargetHandle == "" {
		return DefaultHandle
	}

	return e.TargetHandle
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	return Node{
		ID:     n.ID,
		Type:   n.Type,
		Config: CloneMap(n.Config),
	}
}
