// Package installer implements spec.md's C11: rendering every locked
// resource in install order, writing it atomically to its install_path,
// updating the tool's settings file for MCP-server/hook entries, and
// optionally verifying the on-disk checksum against the lockfile. Grounded
// in the teacher's txn_writer.go (temp-file-then-rename, rollback-on-
// failure shape) and internal/fs's RenameWithFallback/IsDir helpers, which
// this package adapts for per-file atomic writes instead of the teacher's
// whole-project manifest/lock/vendor transaction.
package installer

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/fs"
	"github.com/aig787/agpm-sub002/internal/gitcache"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/template"
	"github.com/aig787/agpm-sub002/internal/toolsettings"
)

// FileContentSource implements template.ContentSource by reading a
// resource's own file either from the project tree (local dependencies, no
// Source) or from the Git cache's worktree for its resolved commit.
type FileContentSource struct {
	ProjectDir string
	Cache      *gitcache.Cache
}

// ReadResourceFile reads r's raw file bytes. It never renders or strips
// frontmatter — that's the renderer's job.
func (s FileContentSource) ReadResourceFile(r resource.LockedResource) ([]byte, error) {
	full := s.resolvePath(r)
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "reading resource file %s", full)
	}
	return b, nil
}

func (s FileContentSource) resolvePath(r resource.LockedResource) string {
	rel := r.Path + r.Type.Extension()
	if r.Source == "" {
		return filepath.Join(s.ProjectDir, rel)
	}
	return filepath.Join(s.Cache.GetWorktreePath(r.URL, r.ResolvedRev), rel)
}

// Result summarizes one Install run.
type Result struct {
	Written       []string // install_path values actually written to disk
	Skipped       []string // install_path values skipped (install: false)
	SettingsFiles []string // tool settings files updated
}

// Installer writes a resolved lockfile's resources to disk.
type Installer struct {
	cfg config.Config
	log zerolog.Logger
}

// New constructs an Installer.
func New(cfg config.Config, log zerolog.Logger) *Installer {
	return &Installer{cfg: cfg, log: log}
}

// Install renders and writes every resource in lock, in dependency order,
// mutating lock's entries in place with the checksum/context_checksum the
// render pass produced (spec.md §4.11 steps 1-4). aliasLookup supplies each
// resource's declared custom aliases; nil means none.
func (in *Installer) Install(lock *lockfile.LockFile, cache *gitcache.Cache, aliasLookup func(resource.LockedResource) map[string]string) (*Result, error) {
	source := FileContentSource{ProjectDir: in.cfg.ProjectDir, Cache: cache}
	renderer := template.NewRenderer(lock, source, in.cfg.ProjectDir, aliasLookup)

	order, err := lockfile.InstallOrder(lock)
	if err != nil {
		return nil, errors.Wrap(err, "computing install order")
	}

	byID := lockfile.ByID(lock)
	checksums := make(map[resource.Id]string, len(order))
	contents := make(map[resource.Id]string, len(order))
	res := &Result{}

	for _, r := range order {
		content, err := renderer.RenderedContent(r.Id())
		if err != nil {
			return nil, errors.Wrapf(err, "rendering %s", r.Id().Key())
		}
		contents[r.Id()] = content
		checksum := template.Checksum(content)
		checksums[r.Id()] = checksum

		depChecksums := make([]string, 0, len(r.Dependencies))
		for _, ref := range r.Dependencies {
			depID, ok := lockfile.ResolveDependencyID(byID, r, ref)
			if !ok {
				continue
			}
			if c, ok := checksums[depID]; ok {
				depChecksums = append(depChecksums, c)
			}
		}
		contextChecksum := template.ContextChecksum(r, depChecksums)

		updateEntry(lock, r.Id(), checksum, contextChecksum)

		if !r.InstallEligible() {
			res.Skipped = append(res.Skipped, r.InstallPath)
			in.log.Debug().Str("install_path", r.InstallPath).Msg("skipping install-ineligible resource")
			continue
		}

		target := filepath.Join(in.cfg.ProjectDir, r.InstallPath)
		if err := writeFileAtomic(target, []byte(content)); err != nil {
			return nil, errors.Wrapf(err, "writing %s", target)
		}
		res.Written = append(res.Written, r.InstallPath)
		in.log.Info().Str("install_path", r.InstallPath).Str("checksum", checksum).Msg("installed resource")
	}

	settingsTouched, err := in.updateToolSettings(lock, contents)
	if err != nil {
		return nil, err
	}
	res.SettingsFiles = settingsTouched

	return res, nil
}

// Verify re-reads every install-eligible entry's on-disk bytes and compares
// their checksum against the lockfile (spec.md §4.11 step 5, §8 property 3).
// It returns the install_path of every entry whose on-disk checksum does not
// match, or a non-nil error the first time a file is missing or unreadable.
func (in *Installer) Verify(lock *lockfile.LockFile) ([]string, error) {
	var mismatched []string
	for _, r := range lock.AllResources() {
		if !r.InstallEligible() {
			continue
		}
		full := filepath.Join(in.cfg.ProjectDir, r.InstallPath)
		b, err := os.ReadFile(full)
		if err != nil {
			return nil, errs.Wrap(errs.ErrChecksumMismatch, "reading %s: %v", full, err)
		}
		if template.Checksum(string(b)) != r.Checksum {
			mismatched = append(mismatched, r.InstallPath)
		}
	}
	return mismatched, nil
}

// updateEntry writes checksum/contextChecksum back into lock's matching
// entry. The install-order slice InstallOrder returns is a copy of each
// LockedResource, so the authoritative values have to be written back by
// Id rather than mutating the loop variable.
func updateEntry(lock *lockfile.LockFile, id resource.Id, checksum, contextChecksum string) {
	for i := range lock.Resources[id.Type] {
		if lock.Resources[id.Type][i].Id() == id {
			lock.Resources[id.Type][i].Checksum = checksum
			lock.Resources[id.Type][i].ContextChecksum = contextChecksum
			return
		}
	}
}

// writeFileAtomic writes content to a sibling temp file in target's
// directory, fsyncs it, then renames it over target (spec.md §4.11 step 3).
// Using os.CreateTemp in target's own directory keeps the write on the same
// filesystem in the common case; fs.RenameWithFallback covers the rest.
func writeFileAtomic(target string, content []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".agpm-install-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fsyncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}

	return fs.RenameWithFallback(tmpPath, target)
}

// claudeSettings is the subset of .claude/settings.local.json agpm owns:
// the mcpServers and hooks objects. Every other top-level key in the file
// is preserved untouched (spec.md §4.11 step 4 only names these two keys).
type claudeSettings map[string]json.RawMessage

// updateToolSettings rewrites the mcpServers/hooks sections of each tool's
// settings file to exactly the set of install-eligible MCP-server/hook
// entries currently in lock, for every tool that owns at least one such
// entry. A full rewrite (rather than an incremental add) makes install
// idempotent: a resource removed from the manifest since the last install
// disappears from its tool's settings file on the next one, mirroring the
// original's explicit per-resource remove path without needing to diff
// against the previous settings contents.
func (in *Installer) updateToolSettings(lock *lockfile.LockFile, contents map[resource.Id]string) ([]string, error) {
	tools := make(map[string]bool)
	for _, r := range lock.Resources[resource.TypeMCPServer] {
		tools[resolveTool(r.Tool)] = true
	}
	for _, r := range lock.Resources[resource.TypeHook] {
		tools[resolveTool(r.Tool)] = true
	}

	var touched []string
	for tool := range tools {
		settingsPath := filepath.Join(in.cfg.ProjectDir, toolsettings.SettingsFile(tool))
		doc, err := loadSettings(settingsPath)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", settingsPath)
		}

		mcpServers, err := settingsSection(lock.Resources[resource.TypeMCPServer], tool, contents)
		if err != nil {
			return nil, err
		}
		hooks, err := settingsSection(lock.Resources[resource.TypeHook], tool, contents)
		if err != nil {
			return nil, err
		}

		if err := setRaw(doc, "mcpServers", mcpServers); err != nil {
			return nil, err
		}
		if err := setRaw(doc, "hooks", hooks); err != nil {
			return nil, err
		}

		if err := saveSettings(settingsPath, doc); err != nil {
			return nil, errors.Wrapf(err, "writing %s", settingsPath)
		}
		touched = append(touched, settingsPath)
		in.log.Info().Str("tool", tool).Str("settings_file", settingsPath).Msg("updated tool settings")
	}

	sort.Strings(touched)
	return touched, nil
}

func resolveTool(tool string) string {
	if tool == "" {
		return toolsettings.DefaultTool
	}
	return tool
}

// settingsSection builds the key->rendered-JSON-content map for one section
// (mcpServers or hooks), keyed by manifest alias if set, else the resource's
// basename, restricted to entries for tool that are still install-eligible.
// Content comes from contents, populated by Install's render pass, so this
// never re-renders.
func settingsSection(entries []resource.LockedResource, tool string, contents map[resource.Id]string) (map[string]json.RawMessage, error) {
	section := make(map[string]json.RawMessage)
	for _, r := range entries {
		if resolveTool(r.Tool) != tool || !r.InstallEligible() {
			continue
		}
		content, ok := contents[r.Id()]
		if !ok {
			continue
		}
		if !json.Valid([]byte(content)) {
			return nil, errors.Errorf("%s: rendered content is not valid JSON", r.Name)
		}
		key := r.ManifestAlias
		if key == "" {
			key = path.Base(r.Name)
		}
		section[key] = json.RawMessage(content)
	}
	return section, nil
}

func loadSettings(settingsPath string) (claudeSettings, error) {
	b, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return claudeSettings{}, nil
		}
		return nil, err
	}
	var doc claudeSettings
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", settingsPath)
	}
	if doc == nil {
		doc = claudeSettings{}
	}
	return doc, nil
}

func saveSettings(settingsPath string, doc claudeSettings) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding settings")
	}
	return writeFileAtomic(settingsPath, b)
}

func setRaw(doc claudeSettings, key string, section map[string]json.RawMessage) error {
	b, err := json.Marshal(section)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	doc[key] = b
	return nil
}
