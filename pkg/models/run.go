package models

import "time"

// RunStatus is the lifecycle state shared by workflow runs and node runs.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// WorkflowRun is one execution attempt of a graph.
type WorkflowRun struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NodeRun is the execution record of one node within one run.
type NodeRun struct {
	NodeID        string         `json:"node_id"`
	WorkflowRunID string         `json:"workflow_run_id"`
	NodeType      string         `json:"node_type,omitempty"`
	Status        RunStatus      `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// NodeRunUpdate carries one status transition of a node run.
// Inputs are set on RUNNING, Outputs on COMPLETED and Error on FAILED.
type NodeRunUpdate struct {
	Status  RunStatus
	At      time.Time
	Inputs  map[string]any
	Outputs map[string]any
	Error   string
}

// Apply writes the update onto the node run, stamping timestamps for the new status.
func (u NodeRunUpdate) Apply(nr *NodeRun) {
	nr.Status = u.Status

	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch u.Status {
	case RunStatusRunning:
		nr.StartedAt = &at
		nr.Inputs = CloneMap(u.Inputs)
	case RunStatusCompleted:
		nr.CompletedAt = &at
		nr.Outputs = CloneMap(u.Outputs)
	case RunStatusFailed:
		nr.CompletedAt = &at
		nr.Error = u.Error
	}
}

// Clone returns a deep copy of the node run.
func (nr *NodeRun) Clone() *NodeRun {
	out := *nr
	out.StartedAt = cloneTime(nr.StartedAt)
	out.CompletedAt = cloneTime(nr.CompletedAt)
	out.Inputs = CloneMap(nr.Inputs)
	out.Outputs = CloneMap(nr.Outputs)

	return &out
}

// Clone returns a copy of the workflow run.
func (r *WorkflowRun) Clone() *WorkflowRun {
	out := *r
	out.CompletedAt = cloneTime(r.CompletedAt)

	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
