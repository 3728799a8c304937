// Package graph provides the acyclicity check the Scenario Expander runs
// over the materialised task edge set. It records vertices and edges only;
// pending counts and consumer lists are computed by the expander itself. It
// leans on a real DAG library instead of a hand-rolled topological sort.
package graph

import (
	"github.com/heimdalr/dag"
)

// Graph is a directed graph of task ids used only during expansion to
// detect cycles before anything is persisted. Runtime fan-out after
// publication does not need this structure again: consumers lists stored on
// each task record are sufficient.
type Graph struct {
	d    *dag.DAG
	ids  map[string]string // task id -> internal vertex id
	seen map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{d: dag.NewDAG(), ids: make(map[string]string), seen: make(map[string]bool)}
}

// idVertex is the minimal payload heimdalr/dag requires per vertex.
type idVertex struct{ id string }

func (v idVertex) ID() string { return v.id }

// AddNode registers a task id as a vertex if not already present.
func (g *Graph) AddNode(id string) {
	if g.seen[id] {
		return
	}
	g.seen[id] = true
	vid, _ := g.d.AddVertex(idVertex{id: id})
	g.ids[id] = vid
}

// AddEdge records that "to" depends on "from" (from must complete before
// to). Returns an error if doing so would introduce a cycle — heimdalr/dag
// rejects the edge rather than accepting it, which is exactly the check the
// expander's cycle-detection step needs.
func (g *Graph) AddEdge(from, to string) error {
	g.AddNode(from)
	g.AddNode(to)
	return g.d.AddEdge(g.ids[from], g.ids[to])
}
