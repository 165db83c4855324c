package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestRenderMermaid_Shapes(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, "%% Workflow")
	assert.Contains(t, out, `n_t(("New order"))`)
	assert.Contains(t, out, `n_fetch["Fetch<br/>(httpRequest)"]`)
	assert.Contains(t, out, `n_shape[/"Shape"/]`)
	assert.Contains(t, out, "n_t --> n_fetch")
}

func TestRenderMermaid_ConditionArms(t *testing.T) {
	model, err := Build(conditionGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, `n_c{"Big?"}`)
	assert.Contains(t, out, "n_c -->|true| n_yes")
	assert.Contains(t, out, "n_c -->|false| n_no")
	assert.Contains(t, out, "n_c -.-> n_extra")
}

func TestRenderMermaid_StatusClasses(t *testing.T) {
	def := linearGraph()
	off := false
	def.Nodes[2].Enabled = &off
	model, err := Build(def, map[string]*store.NodeState{
		"t":     {Status: schema.NodeStatusSuccess},
		"fetch": {Status: schema.NodeStatusError},
	})
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "class n_t success")
	assert.Contains(t, out, "class n_fetch error")
	assert.Contains(t, out, "class n_shape disabled")
}

func TestMermaidEscaping(t *testing.T) {
	assert.Equal(t, "n_a_b_c", mermaidSafeID("a.b-c"))
	assert.Equal(t, "n_end", mermaidSafeID("end"))
	assert.Equal(t, "say #quot;hi#quot; #124; bye<br/>now", mermaidEscapeLabel("say \"hi\" | bye\nnow"))
}
