// Package graph validates workflow graph definitions and derives their dependency structure.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/models"
)

// Graph is a validated set of nodes and edges. Nodes and edges keep their
// declaration order, which the router relies on for last-edge-wins inputs.
type Graph struct {
	Nodes []models.Node
	Edges []models.Edge
}

type options struct {
	strictHandles bool
}

// Option tunes validation.
type Option func(*options)

// WithStrictHandles rejects graphs where more than one edge feeds the same
// input handle of a node.
func WithStrictHandles() Option {
	return func(o *options) {
		o.strictHandles = true
	}
}

// Validate checks node ids, edge endpoints and acyclicity, and returns a graph
// holding deep copies of its inputs. Failures are *failure.Error of KindConfig.
func Validate(nodes []models.Node, edges []models.Edge, opts ...Option) (*Graph, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(nodes))
	for i, node := range nodes {
		if strings.TrimSpace(node.ID) == "" {
			return nil, failure.Config(failure.CodeInvalidNode, fmt.Sprintf("node at position %d has an empty id", i))
		}

		if _, dup := seen[node.ID]; dup {
			return nil, failure.Config(failure.CodeDuplicateNode, fmt.Sprintf("node id %q is declared more than once", node.ID))
		}

		seen[node.ID] = struct{}{}
	}

	handles := make(map[string]int)

	for i, edge := range edges {
		for _, endpoint := range []string{edge.Source, edge.Target} {
			if _, ok := seen[endpoint]; !ok {
				return nil, failure.Config(failure.CodeDanglingEdge,
					fmt.Sprintf("edge %s references unknown node %q", edgeName(i, edge), endpoint))
			}
		}

		if edge.Source == edge.Target {
			return nil, failure.Config(failure.CodeCyclicGraph,
				fmt.Sprintf("edge %s is a self-loop on node %q", edgeName(i, edge), edge.Source))
		}

		if o.strictHandles {
			key := edge.Target + "\x00" + edge.InputKey()
			if prev, dup := handles[key]; dup {
				return nil, failure.Config(failure.CodeDuplicateHandle,
					fmt.Sprintf("edges %s and %s both feed input %q of node %q",
						edgeName(prev, edges[prev]), edgeName(i, edge), edge.InputKey(), edge.Target))
			}

			handles[key] = i
		}
	}

	g := &Graph{
		Nodes: make([]models.Node, len(nodes)),
		Edges: slices.Clone(edges),
	}
	for i, node := range nodes {
		g.Nodes[i] = node.Clone()
	}

	if cyclic := g.unordered(); len(cyclic) > 0 {
		return nil, failure.Config(failure.CodeCyclicGraph,
			"cycle detected among nodes "+strings.Join(cyclic, ", "))
	}

	return g, nil
}

func edgeName(i int, e models.Edge) string {
	if e.ID != "" {
		return fmt.Sprintf("%q", e.ID)
	}

	return fmt.Sprintf("#%d (%s -> %s)", i, e.Source, e.Target)
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (models.Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return models.Node{}, false
}

// Adjacency maps every node id to the targets of its outgoing edges, one entry per edge.
func (g *Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		adj[n.ID] = nil
	}

	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	return adj
}

// InDegrees counts incoming edges per node. Edges are not deduplicated by handle.
func (g *Graph) InDegrees() map[string]int {
	deg := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		deg[n.ID] = 0
	}

	for _, e := range g.Edges {
		deg[e.Target]++
	}

	return deg
}

// Incoming returns the edges targeting nodeID in declaration order.
func (g *Graph) Incoming(nodeID string) []models.Edge {
	var in []models.Edge

	for _, e := range g.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}

	return in
}

// Layers groups node ids by dependency level using Kahn's algorithm. Nodes of
// one layer have no dependency relation between them. Layer members keep
// node declaration order.
func (g *Graph) Layers() ([][]string, error) {
	layers, remaining := g.kahn()
	if len(remaining) > 0 {
		return nil, failure.Config(failure.CodeCyclicGraph,
			"cycle detected among nodes "+strings.Join(remaining, ", "))
	}

	return layers, nil
}

func (g *Graph) unordered() []string {
	_, remaining := g.kahn()

	return remaining
}

func (g *Graph) kahn() ([][]string, []string) {
	inDegree := g.InDegrees()
	adj := g.Adjacency()
	order := make(map[string]int, len(g.Nodes))

	var queue []string

	for i, n := range g.Nodes {
		order[n.ID] = i
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	var layers [][]string

	visited := 0

	for len(queue) > 0 {
		layers = append(layers, queue)
		visited += len(queue)

		var next []string

		for _, id := range queue {
			for _, target := range adj[id] {
				inDegree[target]--
				if inDegree[target] == 0 {
					next = append(next, target)
				}
			}
		}

		slices.SortFunc(next, func(a, b string) int { return order[a] - order[b] })
		queue = next
	}

	if visited == len(g.Nodes) {
		return layers, nil
	}

	var remaining []string

	for _, n := range g.Nodes {
		if inDegree[n.ID] > 0 {
			remaining = append(remaining, n.ID)
		}
	}

	return layers, remaining
}
