package models

import "time"

// Workflow is a saved graph definition that runs can be started from.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"               validate:"required,min=3"`
	Owner     string    `json:"owner,omitempty"`
	Nodes     []*Node   `json:"nodes"              validate:"dive"`
	Edges     []*Edge   `json:"edges"              validate:"dive"`
	Schedule  string    `json:"schedule,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Graph returns value copies of the workflow's nodes and edges.
func (w *Workflow) Graph() ([]Node, []Edge) {
	nodes := make([]Node, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n != nil {
			nodes = append(nodes, n.Clone())
		}
	}

	edges := make([]Edge, 0, len(w.Edges))
	for _, e := range w.Edges {
		if e != nil {
			edges = append(edges, *e)
		}
	}

	return nodes, edges
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	out := *w

	nodes, edges := w.Graph()

	out.Nodes = make([]*Node, len(nodes))
	for i := range nodes {
		out.Nodes[i] = &nodes[i]
	}

	out.Edges = make([]*Edge, len(edges))
	for i := range edges {
		out.Edges[i] = &edges[i]
	}

	return &out
}
