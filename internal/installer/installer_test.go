package installer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/resource"
)

func writeProjectFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestInstallWritesFilesAndFillsChecksums(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "snippets/best-practices.md", "---\n\n---\nUse small functions.")
	writeProjectFile(t, dir, "agents/reviewer.md", "---\n\n---\n{{ agpm.deps.snippets.best_practices.content }}\n")

	snippet := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/best-practices", Path: "snippets/best-practices",
		Tool: "claude-code", Templating: true, InstallPath: "installed/snippets/best-practices.md",
	}
	agent := resource.LockedResource{
		Type: resource.TypeAgent, Name: "agents/reviewer", Path: "agents/reviewer",
		Tool: "claude-code", Templating: true, InstallPath: "installed/agents/reviewer.md",
		Dependencies: []string{lockfile.CanonicalRef(snippet)},
	}

	lock := lockfile.New()
	lock.Resources[resource.TypeSnippet] = append(lock.Resources[resource.TypeSnippet], snippet)
	lock.Resources[resource.TypeAgent] = append(lock.Resources[resource.TypeAgent], agent)

	cfg := config.Default(dir, t.TempDir())
	in := New(cfg, zerolog.Nop())

	res, err := in.Install(lock, nil, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"installed/snippets/best-practices.md", "installed/agents/reviewer.md"}, res.Written)
	require.Empty(t, res.Skipped)

	b, err := os.ReadFile(filepath.Join(dir, "installed/agents/reviewer.md"))
	require.NoError(t, err)
	require.Equal(t, "Use small functions.\n", string(b))

	var updated resource.LockedResource
	for _, r := range lock.Resources[resource.TypeAgent] {
		updated = r
	}
	require.NotEmpty(t, updated.Checksum)
	require.NotEmpty(t, updated.ContextChecksum)
}

func TestInstallSkipsIneligibleResourceButStillRendersIt(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "snippets/internal-only.md", "---\n\n---\nhidden")

	installFalse := false
	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/internal-only", Path: "snippets/internal-only",
		Tool: "claude-code", Templating: true, InstallPath: "installed/snippets/internal-only.md",
		Install: &installFalse,
	}
	lock := lockfile.New()
	lock.Resources[resource.TypeSnippet] = append(lock.Resources[resource.TypeSnippet], r)

	cfg := config.Default(dir, t.TempDir())
	in := New(cfg, zerolog.Nop())

	res, err := in.Install(lock, nil, nil)
	require.NoError(t, err)
	require.Empty(t, res.Written)
	require.Equal(t, []string{"installed/snippets/internal-only.md"}, res.Skipped)

	_, statErr := os.Stat(filepath.Join(dir, "installed/snippets/internal-only.md"))
	require.True(t, os.IsNotExist(statErr))
}

func TestInstallUpdatesMCPServerSettingsFile(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "mcp-servers/search.json", `{"command": "search-server"}`)

	r := resource.LockedResource{
		Type: resource.TypeMCPServer, Name: "mcp-servers/search", Path: "mcp-servers/search",
		Tool: "claude-code", Templating: false, InstallPath: ".claude/mcp-servers/search.json",
	}
	lock := lockfile.New()
	lock.Resources[resource.TypeMCPServer] = append(lock.Resources[resource.TypeMCPServer], r)

	cfg := config.Default(dir, t.TempDir())
	in := New(cfg, zerolog.Nop())

	res, err := in.Install(lock, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.SettingsFiles, 1)

	b, err := os.ReadFile(filepath.Join(dir, ".claude/settings.local.json"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &doc))

	var servers map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["mcpServers"], &servers))
	require.Contains(t, servers, "search")
	require.JSONEq(t, `{"command": "search-server"}`, string(servers["search"]))
}

func TestInstallPreservesUnrelatedSettingsKeys(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "hooks/on-save.json", `{"event": "save"}`)
	writeProjectFile(t, dir, ".claude/settings.local.json", `{"permissions": {"allow": ["Bash"]}}`)

	r := resource.LockedResource{
		Type: resource.TypeHook, Name: "hooks/on-save", Path: "hooks/on-save",
		Tool: "claude-code", Templating: false, InstallPath: ".claude/hooks/on-save.json",
	}
	lock := lockfile.New()
	lock.Resources[resource.TypeHook] = append(lock.Resources[resource.TypeHook], r)

	cfg := config.Default(dir, t.TempDir())
	in := New(cfg, zerolog.Nop())

	_, err := in.Install(lock, nil, nil)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, ".claude/settings.local.json"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Contains(t, doc, "permissions")
	require.Contains(t, doc, "hooks")
}

func TestVerifyDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "snippets/a.md", "---\n\n---\noriginal")

	r := resource.LockedResource{
		Type: resource.TypeSnippet, Name: "snippets/a", Path: "snippets/a",
		Tool: "claude-code", Templating: true, InstallPath: "installed/snippets/a.md",
	}
	lock := lockfile.New()
	lock.Resources[resource.TypeSnippet] = append(lock.Resources[resource.TypeSnippet], r)

	cfg := config.Default(dir, t.TempDir())
	in := New(cfg, zerolog.Nop())

	_, err := in.Install(lock, nil, nil)
	require.NoError(t, err)

	mismatched, err := in.Verify(lock)
	require.NoError(t, err)
	require.Empty(t, mismatched)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "installed/snippets/a.md"), []byte("tampered"), 0o644))

	mismatched, err = in.Verify(lock)
	require.NoError(t, err)
	require.Equal(t, []string{"installed/snippets/a.md"}, mismatched)
}
