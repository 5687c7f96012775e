package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/resource"
)

// identityRenderer implements MetadataRenderer by returning its input
// unchanged, for tests that don't exercise conditional dependency blocks.
type identityRenderer struct{}

func (identityRenderer) RenderMetadata(raw string, vars map[string]any) (string, error) {
	return raw, nil
}

const sampleAgentMarkdown = `---
dependencies:
  snippets:
    - path: snippets/best-practices.md
      name: best_practices
    - path: ./local-helper.md
      version: ^1.0.0
---
# Code Reviewer
`

func TestExtractParsesMarkdownFrontmatterDependencies(t *testing.T) {
	specs, err := Extract(identityRenderer{}, "agents/reviewer.md", resource.TypeAgent, []byte(sampleAgentMarkdown), nil, "manifest")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	var byName = map[string]resource.DependencySpec{}
	for _, s := range specs {
		byName[s.Path] = s
	}

	bp := byName["snippets/best-practices"]
	require.Equal(t, resource.TypeSnippet, bp.Type)
	require.Equal(t, "best_practices", bp.CustomName)
	require.True(t, bp.Install)

	local := byName["agents/local-helper"]
	require.Equal(t, "^1.0.0", local.Version)
}

func TestExtractReturnsNilForResourceWithNoFrontmatter(t *testing.T) {
	specs, err := Extract(identityRenderer{}, "agents/plain.md", resource.TypeAgent, []byte("# No frontmatter here\n"), nil, "manifest")
	require.NoError(t, err)
	require.Nil(t, specs)
}

const sampleJSONMetadata = `{
  "command": "node",
  "args": ["server.js"],
  "agpm": {
    "dependencies": {
      "scripts": [
        {"path": "scripts/setup.js"}
      ]
    }
  }
}`

func TestExtractParsesJSONNestedAgpmDependencies(t *testing.T) {
	specs, err := Extract(identityRenderer{}, "mcp-servers/tool.json", resource.TypeMCPServer, []byte(sampleJSONMetadata), nil, "manifest")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "scripts/setup", specs[0].Path)
	require.Equal(t, resource.TypeScript, specs[0].Type)
}

func TestExtractRejectsUnknownDependencyType(t *testing.T) {
	bad := "---\ndependencies:\n  bogus:\n    - path: x.md\n---\n"
	_, err := Extract(identityRenderer{}, "agents/reviewer.md", resource.TypeAgent, []byte(bad), nil, "manifest")
	require.Error(t, err)
}

func TestExtractRejectsMissingPath(t *testing.T) {
	bad := "---\ndependencies:\n  snippets:\n    - name: no-path\n---\n"
	_, err := Extract(identityRenderer{}, "agents/reviewer.md", resource.TypeAgent, []byte(bad), nil, "manifest")
	require.Error(t, err)
}
