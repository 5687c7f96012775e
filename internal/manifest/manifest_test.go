package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/resource"
)

const sampleManifest = `
[sources]
community = "https://github.com/example/community-resources.git"

[agents]
reviewer = { source = "community", path = "agents/reviewer.md", version = "^1.0.0" }
local-helper = "agents/local-helper.md"

[snippets]
utils = { source = "community", path = "snippets/utils.md", version = "~2.1.0", vars = { log_level = "debug" } }
`

func TestParseManifestShorthandAndTable(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	require.Equal(t, "https://github.com/example/community-resources.git", m.Sources["community"])

	reviewer := m.Dependencies[resource.TypeAgent]["reviewer"]
	require.Equal(t, "community", reviewer.Source)
	require.Equal(t, "agents/reviewer.md", reviewer.Path)
	require.Equal(t, "^1.0.0", reviewer.Version)
	require.True(t, reviewer.Install)
	require.True(t, reviewer.Templating)

	local := m.Dependencies[resource.TypeAgent]["local-helper"]
	require.True(t, local.IsLocal())
	require.Equal(t, "agents/local-helper.md", local.Path)

	utils := m.Dependencies[resource.TypeSnippet]["utils"]
	require.Equal(t, "debug", utils.Vars["log_level"])
}

func TestValidateRejectsUndeclaredSource(t *testing.T) {
	m := New()
	m.Dependencies[resource.TypeAgent]["reviewer"] = resource.DependencySpec{
		Type: resource.TypeAgent, ManifestAlias: "reviewer", Source: "missing", Path: "agents/reviewer.md",
	}

	err := m.Validate()
	require.Error(t, err)
}

func TestAllSpecsIsSortedDeterministically(t *testing.T) {
	m := New()
	m.Dependencies[resource.TypeAgent]["zeta"] = resource.DependencySpec{Type: resource.TypeAgent, ManifestAlias: "zeta"}
	m.Dependencies[resource.TypeAgent]["alpha"] = resource.DependencySpec{Type: resource.TypeAgent, ManifestAlias: "alpha"}
	m.Dependencies[resource.TypeSnippet]["beta"] = resource.DependencySpec{Type: resource.TypeSnippet, ManifestAlias: "beta"}

	specs := m.AllSpecs()
	require.Len(t, specs, 3)
	require.Equal(t, "alpha", specs[0].ManifestAlias)
	require.Equal(t, "zeta", specs[1].ManifestAlias)
	require.Equal(t, "beta", specs[2].ManifestAlias)
}
