package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

const yamlGraph = `nodes:
  - id: t
    kind: trigger
    label: Start
  - id: c
    kind: condition
    label: Big
    config:
      condition: "{{$t.n}} > 3"
  - id: a
    kind: action
    label: Note
    enabled: true
    config:
      actionType: noop
edges:
  - {id: e1, source: t, target: c}
  - {id: e2, source: c, target: a, branch: "true"}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadGraph_YAML(t *testing.T) {
	def, err := readGraph(writeFile(t, "flow.yaml", yamlGraph), nil)
	require.NoError(t, err)

	require.Len(t, def.Nodes, 3)
	assert.Equal(t, schema.NodeKindCondition, def.Nodes[1].Kind)
	assert.Equal(t, "{{$t.n}} > 3", def.Nodes[1].ConfigString(schema.ConfigCondition))
	assert.True(t, def.Nodes[2].IsEnabled())
	require.Len(t, def.Edges, 2)
	assert.Equal(t, schema.BranchTrue, def.Edges[1].Branch)
}

func TestReadGraph_JSONFromStdin(t *testing.T) {
	in := strings.NewReader(`{"nodes":[{"id":"t","kind":"trigger"}],"edges":[]}`)
	def, err := readGraph("-", in)
	require.NoError(t, err)
	assert.Equal(t, "t", def.Nodes[0].ID)
}

func TestReadGraph_Errors(t *testing.T) {
	_, err := readGraph(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)

	_, err = readGraph(writeFile(t, "bad.yml", "nodes: [\n"), nil)
	assert.Error(t, err)

	_, err = readGraph(writeFile(t, "bad.json", "{"), nil)
	assert.Error(t, err)
}

func TestParseInput(t *testing.T) {
	v, err := parseInput("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseInput(`{"n": 5}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(5)}, v)

	v, err = parseInput("@" + writeFile(t, "in.yaml", "email: a@b.com\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "a@b.com"}, v)

	_, err = parseInput("{nope")
	assert.Error(t, err)
}

func TestParseBundle(t *testing.T) {
	b, err := parseBundle([]string{"user=me", "token=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "me", "token": "a=b"}, b)

	_, err = parseBundle([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseBundle([]string{"=x"})
	assert.Error(t, err)
}
