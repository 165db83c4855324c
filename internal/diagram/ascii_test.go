package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestRenderASCII_Linear(t *testing.T) {
	model, err := Build(linearGraph(), map[string]*store.NodeState{
		"fetch": {Status: schema.NodeStatusSuccess, DurationMs: 40},
	})
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.True(t, strings.HasPrefix(out, "=== Workflow ===\n"))
	assert.Contains(t, out, "│ New order │")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "40ms")
	assert.Contains(t, out, "/transform/")
	assert.Contains(t, out, "▼")
	assert.Contains(t, out, "  t ─→ fetch\n")
}

func TestRenderASCII_ConditionEdges(t *testing.T) {
	model, err := Build(conditionGraph(), nil)
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.Contains(t, out, "  c ─→ yes [true]\n")
	assert.Contains(t, out, "  c ─→ no [false]\n")
	assert.Contains(t, out, "  c ─→ extra (unreachable)\n")
}

func TestMakeBox_AlignsMultibyteLabels(t *testing.T) {
	box := makeBox(&Node{Label: "Café", Kind: NodeKindAction})
	require.Len(t, box.lines, 3)
	assert.Equal(t, "┌──────┐", box.lines[0])
	assert.Equal(t, "│ Café │", box.lines[1])
}

func TestStatusTag(t *testing.T) {
	assert.Equal(t, "[OK]", statusTag("success"))
	assert.Equal(t, "[FAIL]", statusTag("error"))
	assert.Equal(t, "[SKIP]", statusTag("skipped"))
	assert.Equal(t, "", statusTag("unknown"))
}
