package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

func TestRenderImage_PNG(t *testing.T) {
	model, err := Build(conditionGraph(), map[string]*store.NodeState{
		"t": {Status: schema.NodeStatusSuccess},
	})
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderGraphviz_SVG(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	svg, err := RenderGraphviz(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestRenderGraphviz_UnknownFormat(t *testing.T) {
	_, err := RenderGraphviz(context.Background(), &DiagramModel{}, Format("gif"))
	require.Error(t, err)
}
