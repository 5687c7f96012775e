package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

func TestGraphTopoSortOrdersDependenciesFirst(t *testing.T) {
	g := NewGraph()
	reviewer := resource.Id{Name: "reviewer", Type: resource.TypeAgent}
	utils := resource.Id{Name: "utils", Type: resource.TypeSnippet}
	formatter := resource.Id{Name: "formatter", Type: resource.TypeSnippet}

	g.AddEdge(reviewer, utils)
	g.AddEdge(reviewer, formatter)

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[resource.Id]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos[utils], pos[reviewer])
	require.Less(t, pos[formatter], pos[reviewer])
}

func TestGraphSameNameDifferentSourcesIsNotACycle(t *testing.T) {
	// spec.md §8 scenario 3: two resources share a bare name but differ by
	// Source, so an edge between them by name alone would look like a
	// self-loop; keyed by the full Id it must not.
	g := NewGraph()
	fromSourceA := resource.Id{Name: "utils", Source: "team-a", Type: resource.TypeSnippet}
	fromSourceB := resource.Id{Name: "utils", Source: "team-b", Type: resource.TypeSnippet}
	root := resource.Id{Name: "reviewer", Type: resource.TypeAgent}

	g.AddEdge(root, fromSourceA)
	g.AddEdge(root, fromSourceB)
	g.AddEdge(fromSourceA, fromSourceB)

	require.Nil(t, g.DetectCycle())

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Len(t, order, 3)
}

func TestGraphDetectsCycle(t *testing.T) {
	g := NewGraph()
	a := resource.Id{Name: "a", Type: resource.TypeSnippet}
	b := resource.Id{Name: "b", Type: resource.TypeSnippet}
	c := resource.Id{Name: "c", Type: resource.TypeSnippet}

	g.AddEdge(a, b)
	g.AddEdge(b, c)
	g.AddEdge(c, a)

	cycle := g.DetectCycle()
	require.NotEmpty(t, cycle)
	require.Equal(t, cycle[0], cycle[len(cycle)-1])

	_, err := g.TopoSort()
	require.ErrorIs(t, err, errs.ErrCircularDependency)
}

func TestGraphSelfEdgeIsACycle(t *testing.T) {
	g := NewGraph()
	a := resource.Id{Name: "a", Type: resource.TypeSnippet}
	g.AddEdge(a, a)

	cycle := g.DetectCycle()
	require.NotEmpty(t, cycle)
}

func TestGraphDuplicateEdgesCollapse(t *testing.T) {
	g := NewGraph()
	a := resource.Id{Name: "a", Type: resource.TypeSnippet}
	b := resource.Id{Name: "b", Type: resource.TypeSnippet}

	g.AddEdge(a, b)
	g.AddEdge(a, b)
	g.AddEdge(a, b)

	require.Len(t, g.out[a], 1)
}

func TestGraphLeafNodeWithNoDependenciesIsIncluded(t *testing.T) {
	g := NewGraph()
	leaf := resource.Id{Name: "leaf", Type: resource.TypeSnippet}
	g.AddNode(leaf)

	order, err := g.TopoSort()
	require.NoError(t, err)
	require.Equal(t, []resource.Id{leaf}, order)
}
