package resolve

import (
	"sort"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// Edge is one direct dependency relationship discovered during extraction.
type Edge struct {
	From resource.Id
	To   resource.Id
}

// Graph is the dependency graph described in spec.md §4.7: nodes are
// resolved resource identities, edges are direct dependency relationships.
// A Graph is built purely from recorded edges and does no resolution work of
// its own: pkg/agpm fills one during discovery, and lockfile.InstallOrder
// rebuilds one from a lockfile's dependency refs.
type Graph struct {
	nodes map[resource.Id]bool
	out   map[resource.Id][]resource.Id
}

// NewGraph constructs an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[resource.Id]bool),
		out:   make(map[resource.Id][]resource.Id),
	}
}

// AddNode registers id even if it has no outgoing edges (a leaf resource
// with no dependencies of its own still needs a topological-order slot).
func (g *Graph) AddNode(id resource.Id) {
	g.nodes[id] = true
}

// AddEdge records that from depends directly on to. Duplicate edges collapse
// silently (spec.md §4.7: "duplicate edges collapse"); a self-edge is
// recorded as-is and will be reported by DetectCycle/TopoSort as a
// one-node cycle.
func (g *Graph) AddEdge(from, to resource.Id) {
	g.nodes[from] = true
	g.nodes[to] = true
	for _, existing := range g.out[from] {
		if existing == to {
			return
		}
	}
	g.out[from] = append(g.out[from], to)
}

// color is the three-color DFS marker used by DetectCycle/TopoSort.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// DetectCycle runs a three-color DFS over the graph and returns the exact
// cycle path (a, b, c, ..., a) the first time it finds one, or nil if the
// graph is acyclic. Traversal order is deterministic (nodes and each node's
// out-edges sorted by Key()) so repeated calls on the same graph report the
// same cycle.
func (g *Graph) DetectCycle() []resource.Id {
	colors := make(map[resource.Id]color, len(g.nodes))
	var stack []resource.Id

	var cycle []resource.Id
	var visit func(id resource.Id) bool
	visit = func(id resource.Id) bool {
		colors[id] = gray
		stack = append(stack, id)

		for _, next := range g.sortedOut(id) {
			switch colors[next] {
			case gray:
				// Found the back-edge; extract the cycle portion of the
				// stack starting at `next`.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle = append(append([]resource.Id{}, stack[start:]...), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return false
	}

	for _, id := range g.sortedNodes() {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopoSort returns the graph's nodes in dependency order (a dependency
// always precedes its dependents), with ties within the same rank broken by
// (Type, Name) for determinism (spec.md §4.7/§8 property 1). It fails with
// ErrCircularDependency if the graph contains a cycle.
func (g *Graph) TopoSort() ([]resource.Id, error) {
	if cycle := g.DetectCycle(); cycle != nil {
		return nil, errs.Wrap(errs.ErrCircularDependency, "%s", describeCycle(cycle))
	}

	visited := make(map[resource.Id]bool, len(g.nodes))
	var order []resource.Id

	var visit func(id resource.Id)
	visit = func(id resource.Id) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, next := range g.sortedOut(id) {
			visit(next)
		}
		order = append(order, id)
	}

	for _, id := range g.sortedNodes() {
		visit(id)
	}

	// visit appends a node only after all of its dependencies, so `order` is
	// already dependency-first: dependents follow what they depend on, which
	// is the install order used by C11.
	return order, nil
}

func (g *Graph) sortedNodes() []resource.Id {
	out := make([]resource.Id, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sortIds(out)
	return out
}

func (g *Graph) sortedOut(id resource.Id) []resource.Id {
	out := append([]resource.Id{}, g.out[id]...)
	sortIds(out)
	return out
}

func sortIds(ids []resource.Id) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key() < b.Key()
	})
}

func describeCycle(cycle []resource.Id) string {
	s := ""
	for i, id := range cycle {
		if i > 0 {
			s += " -> "
		}
		s += id.Key()
	}
	return s
}
