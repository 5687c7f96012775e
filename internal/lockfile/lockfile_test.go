package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/resource"
)

func TestBuilderMergesDuplicateEntries(t *testing.T) {
	b := NewBuilder()
	installFalse := false
	installTrue := true

	r1 := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "utils", Source: "community", ResolvedRev: "aaa",
		ManifestAlias: "", InstallPath: "snippets/utils.md", Install: &installFalse,
	}
	r2 := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "utils", Source: "community", ResolvedRev: "aaa",
		ManifestAlias: "utils-alias", InstallPath: "snippets/utils.md", Install: &installTrue,
	}

	b.AddResource(r1)
	b.AddResource(r2)

	lock, err := b.Build()
	require.NoError(t, err)

	all := lock.AllResources()
	require.Len(t, all, 1)
	require.Equal(t, "utils-alias", all[0].ManifestAlias)
	require.True(t, all[0].InstallEligible())
}

func TestBuilderDetectsInstallPathConflict(t *testing.T) {
	b := NewBuilder()
	b.AddResource(resource.LockedResource{Type: resource.TypeSnippet, Name: "a", Source: "s1", InstallPath: "snippets/shared.md"})
	b.AddResource(resource.LockedResource{Type: resource.TypeSnippet, Name: "b", Source: "s2", InstallPath: "snippets/shared.md"})

	_, err := b.Build()
	require.Error(t, err)
}

func TestCanonicalRefFormats(t *testing.T) {
	require.Equal(t, "snippet:snippets/utils.md", CanonicalRef(resource.LockedResource{Type: resource.TypeSnippet, Path: "snippets/utils.md"}))
	require.Equal(t, "snippet:snippets/utils.md@^1.0.0", CanonicalRef(resource.LockedResource{Type: resource.TypeSnippet, Path: "snippets/utils.md", Version: "^1.0.0"}))
	require.Equal(t, "community/snippet:snippets/utils.md@^1.0.0", CanonicalRef(resource.LockedResource{
		Type: resource.TypeSnippet, Path: "snippets/utils.md", Version: "^1.0.0", Source: "community",
	}))
}

func TestSplitAndMergePrivacyRoundTrips(t *testing.T) {
	l := New()
	l.Resources[resource.TypeAgent] = []resource.LockedResource{
		{Type: resource.TypeAgent, Name: "shared", IsPrivate: false},
		{Type: resource.TypeAgent, Name: "mine", IsPrivate: true},
	}

	pub, priv := l.SplitByPrivacy()
	require.Len(t, pub.Resources[resource.TypeAgent], 1)
	require.Len(t, priv.Resources[resource.TypeAgent], 1)
	require.Equal(t, "shared", pub.Resources[resource.TypeAgent][0].Name)
	require.Equal(t, "mine", priv.Resources[resource.TypeAgent][0].Name)

	pub.MergePrivate(priv)
	require.Len(t, pub.Resources[resource.TypeAgent], 2)
	names := []string{pub.Resources[resource.TypeAgent][0].Name, pub.Resources[resource.TypeAgent][1].Name}
	require.ElementsMatch(t, []string{"shared", "mine"}, names)
}
