package graph_test

import (
	"testing"

	"github.com/dukex/canvasflow/pkg/failure"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(ids ...string) []models.Node {
	out := make([]models.Node, len(ids))
	for i, id := range ids {
		out[i] = models.Node{ID: id, Type: "textNode", Config: map[string]any{"text": id}}
	}

	return out
}

func edge(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		nodes    []models.Node
		edges    []models.Edge
		opts     []graph.Option
		wantCode string
	}{
		{
			name:  "empty graph",
			nodes: nil,
			edges: nil,
		},
		{
			name:  "chain",
			nodes: nodes("a", "b", "c"),
			edges: []models.Edge{edge("a", "b"), edge("b", "c")},
		},
		{
			name:     "self loop",
			nodes:    nodes("x"),
			edges:    []models.Edge{edge("x", "x")},
			wantCode: failure.CodeCyclicGraph,
		},
		{
			name:     "two node cycle",
			nodes:    nodes("a", "b", "c"),
			edges:    []models.Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
			wantCode: failure.CodeCyclicGraph,
		},
		{
			name:     "dangling target",
			nodes:    nodes("a"),
			edges:    []models.Edge{edge("a", "ghost")},
			wantCode: failure.CodeDanglingEdge,
		},
		{
			name:     "dangling source",
			nodes:    nodes("a"),
			edges:    []models.Edge{edge("ghost", "a")},
			wantCode: failure.CodeDanglingEdge,
		},
		{
			name:     "duplicate node id",
			nodes:    nodes("a", "a"),
			wantCode: failure.CodeDuplicateNode,
		},
		{
			name:     "empty node id",
			nodes:    []models.Node{{ID: " ", Type: "textNode"}},
			wantCode: failure.CodeInvalidNode,
		},
		{
			name:  "shared handle allowed by default",
			nodes: nodes("a", "b", "c"),
			edges: []models.Edge{edge("a", "c"), edge("b", "c")},
		},
		{
			name:     "shared handle rejected when strict",
			nodes:    nodes("a", "b", "c"),
			edges:    []models.Edge{edge("a", "c"), edge("b", "c")},
			opts:     []graph.Option{graph.WithStrictHandles()},
			wantCode: failure.CodeDuplicateHandle,
		},
		{
			name:  "distinct handles pass strict",
			nodes: nodes("a", "b", "c"),
			edges: []models.Edge{
				{Source: "a", Target: "c", TargetHandle: "system_prompt"},
				{Source: "b", Target: "c", TargetHandle: "user_message"},
			},
			opts: []graph.Option{graph.WithStrictHandles()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := graph.Validate(tt.nodes, tt.edges, tt.opts...)
			if tt.wantCode == "" {
				require.NoError(t, err)
				require.NotNil(t, g)
				assert.Len(t, g.Nodes, len(tt.nodes))

				return
			}

			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, failure.IsConfig(err))
			assert.Equal(t, tt.wantCode, failure.CodeOf(err))
		})
	}
}

func TestValidate_DoesNotRetainInputs(t *testing.T) {
	t.Parallel()

	in := nodes("a")
	g, err := graph.Validate(in, nil)
	require.NoError(t, err)

	in[0].Config["text"] = "mutated"

	node, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, "a", node.Config["text"])
}

func TestGraph_Layers(t *testing.T) {
	t.Parallel()

	g, err := graph.Validate(
		nodes("a", "b", "c", "d"),
		[]models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
	)
	require.NoError(t, err)

	layers, err := g.Layers()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, layers)
}

func TestGraph_InDegreesCountEveryEdge(t *testing.T) {
	t.Parallel()

	g, err := graph.Validate(
		nodes("a", "b"),
		[]models.Edge{
			{Source: "a", Target: "b", TargetHandle: "x"},
			{Source: "a", Target: "b", TargetHandle: "y"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"a": 0, "b": 2}, g.InDegrees())
	assert.Equal(t, []string{"b", "b"}, g.Adjacency()["a"])
	assert.Len(t, g.Incoming("b"), 2)
}

func TestGraph_LayersReportsCycleOnUncheckedGraph(t *testing.T) {
	t.Parallel()

	g := &graph.Graph{Nodes: nodes("a", "b"), Edges: []models.Edge{edge("a", "b"), edge("b", "a")}}

	_, err := g.Layers()
	require.Error(t, err)
	assert.Equal(t, failure.CodeCyclicGraph, failure.CodeOf(err))
}

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	gen := graph.NewIDGenerator("node", "node_1", "node_7", "llm")
	assert.Equal(t, "node_8", gen.Next())
	assert.Equal(t, "node_9", gen.Next())

	fresh := graph.NewIDGenerator("")
	assert.Equal(t, "node_1", fresh.Next())

	other := graph.NewIDGenerator("crop")
	assert.Equal(t, "crop_1", other.Next())
	assert.Equal(t, "node_2", fresh.Next())
}
