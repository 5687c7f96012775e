package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/resource"
)

func TestInstallOrderPlacesDependenciesFirst(t *testing.T) {
	practices := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/best-practices", Path: "snippets/best-practices", Tool: "claude-code",
	}
	reviewer := resource.LockedResource{
		Type: resource.TypeAgent, Name: "agents/reviewer", Path: "agents/reviewer", Tool: "claude-code",
		Dependencies: []string{CanonicalRef(practices)},
	}

	l := New()
	l.Resources[resource.TypeSnippet] = append(l.Resources[resource.TypeSnippet], practices)
	l.Resources[resource.TypeAgent] = append(l.Resources[resource.TypeAgent], reviewer)

	order, err := InstallOrder(l)
	require.NoError(t, err)
	require.Len(t, order, 2)
	require.Equal(t, practices.Id(), order[0].Id())
	require.Equal(t, reviewer.Id(), order[1].Id())
}

func TestInstallOrderSkipsUnresolvableDependencyRef(t *testing.T) {
	orphan := resource.LockedResource{
		Type: resource.TypeAgent, Name: "agents/orphan", Path: "agents/orphan", Tool: "claude-code",
		Dependencies: []string{"snippet:snippets/missing"},
	}
	l := New()
	l.Resources[resource.TypeAgent] = append(l.Resources[resource.TypeAgent], orphan)

	order, err := InstallOrder(l)
	require.NoError(t, err)
	require.Len(t, order, 1)
}

func TestInstallOrderDetectsCycle(t *testing.T) {
	a := resource.LockedResource{Type: resource.TypeSnippet, Name: "snippets/a", Path: "snippets/a", Tool: "claude-code"}
	b := resource.LockedResource{Type: resource.TypeSnippet, Name: "snippets/b", Path: "snippets/b", Tool: "claude-code"}
	a.Dependencies = []string{CanonicalRef(b)}
	b.Dependencies = []string{CanonicalRef(a)}

	l := New()
	l.Resources[resource.TypeSnippet] = append(l.Resources[resource.TypeSnippet], a, b)

	_, err := InstallOrder(l)
	require.Error(t, err)
}
