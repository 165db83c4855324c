package graph

import (
	"maps"

	"github.com/rendis/flowforge/pkg/schema"
)

// Visited is the set of node ids already reached during one traversal. It is
// passed by reference so that every recursive call shares it.
type Visited map[string]struct{}

// NewVisited returns a set seeded with ids.
func NewVisited(ids ...string) Visited {
	v := make(Visited, len(ids))
	for _, id := range ids {
		v[id] = struct{}{}
	}
	return v
}

// Has reports whether id was already reached.
func (v Visited) Has(id string) bool {
	_, ok := v[id]
	return ok
}

// Add marks id as reached.
func (v Visited) Add(id string) {
	v[id] = struct{}{}
}

// AddAll marks every id in other as reached.
func (v Visited) AddAll(other Visited) {
	maps.Copy(v, other)
}

// Clone returns an independent copy.
func (v Visited) Clone() Visited {
	return maps.Clone(v)
}

// VisitFunc is called once per reached node. Returning false stops traversal
// below that node; its successors are not visited from this path.
type VisitFunc func(n *schema.Node, depth int) bool

// Traverse walks the graph depth-first from startID. A node already present
// in visited is skipped, so a node reachable through several paths is seen
// once, at the depth of the first path, and cycles are truncated. Disabled
// nodes are reported but not descended into, and conditions only lead to
// their true and false arms.
func (g *Graph) Traverse(startID string, visited Visited, fn VisitFunc) {
	g.traverse(startID, 0, visited, fn)
}

func (g *Graph) traverse(id string, depth int, visited Visited, fn VisitFunc) {
	if visited.Has(id) {
		return
	}
	n := g.byID[id]
	if n == nil {
		return
	}
	visited.Add(id)

	if !fn(n, depth) {
		return
	}
	for _, next := range g.next(id) {
		g.traverse(next, depth+1, visited, fn)
	}
}

// reach returns the ids reachable from start without entering barrier, in
// depth-first preorder. barrier is not modified.
func (g *Graph) reach(start string, barrier Visited) []string {
	if start == "" {
		return nil
	}
	var out []string
	g.Traverse(start, barrier.Clone(), func(n *schema.Node, _ int) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}
