package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound indicates a workflow run was not found.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrNodeRunNotFound indicates no node run exists for the run and node.
	ErrNodeRunNotFound = errors.New("node run not found")

	// ErrRunAlreadyExists indicates a run or node run with the same identifier already exists.
	ErrRunAlreadyExists = errors.New("run already exists")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// RunError wraps run-related errors with the run and, when relevant, node id.
type RunError struct {
	Op     string
	RunID  string
	NodeID string
	Err    error
}

func (e *RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s operation failed for node %s in run %s: %v", e.Op, e.NodeID, e.RunID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a run error.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// NewNodeRunError creates a run error scoped to one node.
func NewNodeRunError(op, runID, nodeID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, NodeID: nodeID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsNodeRunNotFound checks if an error indicates a node run was not found.
func IsNodeRunNotFound(err error) bool {
	return errors.Is(err, ErrNodeRunNotFound)
}
