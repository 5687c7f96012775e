package template

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// fakeSource serves fixed file bodies keyed by a resource's canonical
// (extension-stripped) path, standing in for the Git-cache worktree reads
// the real installer performs.
type fakeSource struct {
	bodies map[string]string
}

func (f fakeSource) ReadResourceFile(r resource.LockedResource) ([]byte, error) {
	b, ok := f.bodies[r.Path]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", r.Path)
	}
	return []byte(b), nil
}

func buildLock(resources ...resource.LockedResource) *lockfile.LockFile {
	lf := lockfile.New()
	for _, r := range resources {
		lf.Resources[r.Type] = append(lf.Resources[r.Type], r)
	}
	return lf
}

func TestRenderSubstitutesResourceVariables(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeAgent, Name: "agents/reviewer", Path: "agents/reviewer",
		Version: "1.2.0", Tool: "claude-code", Templating: true,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"agents/reviewer": "---\nname: reviewer\n---\n# Reviewer v{{ agpm.resource.version }}\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, "# Reviewer v1.2.0\n", out)
}

func TestRenderEmbedsDependencyContent(t *testing.T) {
	snippet := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/best-practices", Path: "snippets/best-practices",
		Tool: "claude-code", Templating: true,
	}
	agent := resource.LockedResource{
		Type: resource.TypeAgent, Name: "agents/reviewer", Path: "agents/reviewer",
		Tool: "claude-code", Templating: true,
		Dependencies: []string{lockfile.CanonicalRef(resource.LockedResource{Type: resource.TypeSnippet, Path: "snippets/best-practices"})},
	}
	lf := buildLock(snippet, agent)
	src := fakeSource{bodies: map[string]string{
		"snippets/best-practices": "---\n\n---\nUse small functions.",
		"agents/reviewer":         "---\n\n---\n{{ agpm.deps.snippets.best_practices.content }}\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(agent.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, "Use small functions.\n", out)
}

func TestRenderDetectsCircularDependency(t *testing.T) {
	a := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/a", Path: "snippets/a", Tool: "claude-code", Templating: true,
		Dependencies: []string{lockfile.CanonicalRef(resource.LockedResource{Type: resource.TypeSnippet, Path: "snippets/b"})},
	}
	b := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/b", Path: "snippets/b", Tool: "claude-code", Templating: true,
		Dependencies: []string{lockfile.CanonicalRef(resource.LockedResource{Type: resource.TypeSnippet, Path: "snippets/a"})},
	}
	lf := buildLock(a, b)
	src := fakeSource{bodies: map[string]string{
		"snippets/a": "---\n\n---\n{{ agpm.deps.snippets.b.content }}",
		"snippets/b": "---\n\n---\n{{ agpm.deps.snippets.a.content }}",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	_, err := rnd.Render(a.Id(), make(map[resource.Id]bool))
	require.Error(t, err)
}

func TestRenderLiteralFenceIsNotTemplated(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/example", Path: "snippets/example",
		Tool: "claude-code", Templating: true,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"snippets/example": "---\n\n---\nRendered: {{ agpm.resource.name }}\n\n```literal\nShown as-is: {{ agpm.resource.name }}\n```\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Contains(t, out, "Rendered: snippets/example")
	require.Contains(t, out, "```\nShown as-is: {{ agpm.resource.name }}\n```")
}

func TestRenderGuardSentinelProducesUnfencedLiteral(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/example", Path: "snippets/example",
		Tool: "claude-code", Templating: true,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"snippets/example": "---\n\n---\n__AGPM_LITERAL_RAW_START__{{ not a var }}__AGPM_LITERAL_RAW_END__\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, "{{ not a var }}\n", out)
}

func TestRenderSubstitutesDeclaredTemplateVariable(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/example", Path: "snippets/example",
		Tool: "claude-code", Templating: true,
		VariantInputs: map[string]any{"greeting": "hello"},
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"snippets/example": "---\n\n---\n{{ agpm.vars.greeting }}, world\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, "hello, world\n", out)
}

func TestRenderFailsOnUndeclaredTemplateVariable(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/example", Path: "snippets/example",
		Tool: "claude-code", Templating: true,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"snippets/example": "---\n\n---\n{{ agpm.vars.greeting }}, world\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	_, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.ErrorIs(t, err, errs.ErrMissingVariable)
}

func TestRenderNonTemplatingResourceIsPassedThroughLiterally(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeScript, Name: "scripts/setup", Path: "scripts/setup",
		Tool: "claude-code", Templating: false,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"scripts/setup": "console.log('{{ not templated }}');\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	out, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, "console.log('{{ not templated }}');\n", out)
}

func TestRenderCachesByResolvedCommitAndVariantHash(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/cached", Path: "snippets/cached",
		Tool: "claude-code", Templating: true, ResolvedRev: "abc123",
	}
	lf := buildLock(r)
	calls := 0
	src := countingSource{fakeSource: fakeSource{bodies: map[string]string{
		"snippets/cached": "---\n\n---\nbody\n",
	}}, calls: &calls}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	_, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	_, err = rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

type countingSource struct {
	fakeSource
	calls *int
}

func (c countingSource) ReadResourceFile(r resource.LockedResource) ([]byte, error) {
	*c.calls++
	return c.fakeSource.ReadResourceFile(r)
}

func TestContentFilterRejectsPathEscape(t *testing.T) {
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/escape", Path: "snippets/escape",
		Tool: "claude-code", Templating: true,
	}
	lf := buildLock(r)
	src := fakeSource{bodies: map[string]string{
		"snippets/escape": "---\n\n---\n{{ \"../../../etc/passwd\" | content }}\n",
	}}

	rnd := NewRenderer(lf, src, t.TempDir(), nil)
	_, err := rnd.Render(r.Id(), make(map[resource.Id]bool))
	require.Error(t, err)
}

func TestChecksumIsDeterministic(t *testing.T) {
	require.Equal(t, Checksum("hello"), Checksum("hello"))
	require.NotEqual(t, Checksum("hello"), Checksum("world"))
}
