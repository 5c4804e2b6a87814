// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/canvasflow/pkg/models"

// WorkflowRequest is the body for creating or replacing a saved workflow.
type WorkflowRequest struct {
	Name     string         `json:"name"               validate:"required,min=3"`
	Owner    string         `json:"owner,omitempty"`
	Nodes    []*models.Node `json:"nodes"              validate:"dive"`
	Edges    []*models.Edge `json:"edges"              validate:"dive"`
	Schedule string         `json:"schedule,omitempty"`
}

// Workflow converts the request into a workflow model.
func (r WorkflowRequest) Workflow() *models.Workflow {
	nodes := r.Nodes
	if nodes == nil {
		nodes = []*models.Node{}
	}

	edges := r.Edges
	if edges == nil {
		edges = []*models.Edge{}
	}

	return &models.Workflow{
		Name:     r.Name,
		Owner:    r.Owner,
		Nodes:    nodes,
		Edges:    edges,
		Schedule: r.Schedule,
	}
}

// CancelRunRequest is the optional body of a cancel call.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// RunListResponse wraps a page of runs.
type RunListResponse struct {
	Runs  []*models.WorkflowRun `json:"runs"`
	Limit int                   `json:"limit"`
}
