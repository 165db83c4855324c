package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

func linearGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "t", Kind: schema.NodeKindTrigger, Label: "New order"},
			{ID: "fetch", Kind: schema.NodeKindAction, Label: "Fetch", Config: map[string]any{"actionType": "httpRequest"}},
			{ID: "shape", Kind: schema.NodeKindTransform, Label: "Shape", Config: map[string]any{"transformType": "jq", "expression": "."}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t", Target: "fetch"},
			{ID: "e2", Source: "fetch", Target: "shape"},
		},
	}
}

func conditionGraph() *schema.Graph {
	return &schema.Graph{
		Nodes: []schema.Node{
			{ID: "t", Kind: schema.NodeKindTrigger, Label: "Start"},
			{ID: "c", Kind: schema.NodeKindCondition, Label: "Big?", Config: map[string]any{"condition": "{{$t.n}} > 3"}},
			{ID: "yes", Kind: schema.NodeKindAction, Label: "Yes"},
			{ID: "no", Kind: schema.NodeKindAction, Label: "No"},
			{ID: "extra", Kind: schema.NodeKindAction, Label: "Extra"},
			{ID: "lost", Kind: schema.NodeKindAction, Label: "Lost"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "t", Target: "c"},
			{ID: "e2", Source: "c", Target: "no", Branch: schema.BranchFalse},
			{ID: "e3", Source: "c", Target: "yes", Branch: schema.BranchTrue},
			{ID: "e4", Source: "c", Target: "extra"},
		},
	}
}

func TestBuild_Linear(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Workflow", model.Title)
	require.Len(t, model.Nodes, 3)
	assert.Equal(t, NodeKindTrigger, model.Nodes[0].Kind)
	assert.Equal(t, "Fetch\n(httpRequest)", model.Nodes[1].Label)
	assert.Equal(t, NodeKindTransform, model.Nodes[2].Kind)
	assert.Equal(t, [][]string{{"t"}, {"fetch"}, {"shape"}}, model.Levels)
	assert.Equal(t, []Edge{{From: "t", To: "fetch"}, {From: "fetch", To: "shape"}}, model.Edges)
}

func TestBuild_ConditionEdgeLabels(t *testing.T) {
	model, err := Build(conditionGraph(), nil)
	require.NoError(t, err)

	require.Len(t, model.Edges, 4)
	assert.Equal(t, "", model.Edges[0].Label)
	assert.Equal(t, "false", model.Edges[1].Label)
	assert.Equal(t, "true", model.Edges[2].Label)
	assert.True(t, model.Edges[3].Unreachable)
	assert.Empty(t, model.Edges[3].Label)

	// Nodes no trigger reaches are placed last.
	assert.Equal(t, [][]string{{"t"}, {"c"}, {"yes", "no", "extra"}, {"lost"}}, model.Levels)
}

func TestBuild_StatusOverlayAndDisabled(t *testing.T) {
	def := linearGraph()
	off := false
	def.Nodes[2].Enabled = &off

	states := map[string]*store.NodeState{
		"t":     {NodeID: "t", Status: schema.NodeStatusSuccess},
		"fetch": {NodeID: "fetch", Status: schema.NodeStatusError, Error: "boom", DurationMs: 12},
	}
	model, err := Build(def, states)
	require.NoError(t, err)

	require.NotNil(t, model.Nodes[1].Status)
	assert.Equal(t, "error", model.Nodes[1].Status.Status)
	assert.Equal(t, "boom", model.Nodes[1].Status.Error)
	assert.Equal(t, int64(12), model.Nodes[1].Status.DurationMs)
	assert.Nil(t, model.Nodes[2].Status)
	assert.True(t, model.Nodes[2].Disabled)
}

func TestBuild_DanglingEdge(t *testing.T) {
	def := linearGraph()
	def.Edges = append(def.Edges, schema.Edge{ID: "bad", Source: "shape", Target: "ghost"})
	_, err := Build(def, nil)
	require.Error(t, err)
}
