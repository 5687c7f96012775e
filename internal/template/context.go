// Package template implements spec.md's C9 (context builder) and C10
// (renderer): building the nested agpm.resource/agpm.deps map a resource's
// template sees, and rendering that resource's content through a sandboxed
// Tera-like engine with literal-block protection, multi-pass re-rendering,
// and a render cache. Grounded in
// original_source/src/templating/mod.rs/dependencies/extractors.rs/builders.rs
// since the teacher (a Go dependency solver) has no templating subsystem of
// its own; the Go idiom — explicit builder struct, no package-level
// singletons — follows the teacher's config.Config pattern.
package template

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/lockfile"
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/toolsettings"
)

// DependencyData is one entry under agpm.deps.<type_plural>.<key>: every
// LockedResource field plus the dependency's rendered content (spec.md
// §4.9).
type DependencyData struct {
	Name            string
	Source          string
	URL             string
	Path            string
	Version         string
	ResolvedRev     string
	Checksum        string
	InstallPath     string
	Tool            string
	ManifestAlias   string
	ContextChecksum string
	Content         string
}

// Context is the full rendering context for one resource: agpm.resource and
// agpm.deps.
type Context struct {
	Resource resource.LockedResource
	Deps     map[string]map[string]DependencyData // type_plural -> key -> data
}

// ToMap renders Context into the nested map[string]any a pongo2 template
// sees as the `agpm` top-level variable: `agpm.resource`, `agpm.deps`, and
// `agpm.vars` (the resource's own declared `template_vars`, referenced as
// `agpm.vars.<name>` — renderMultiPass rejects any reference not present
// here rather than letting pongo2 silently resolve it to an empty string).
func (c Context) ToMap() map[string]any {
	resMap := map[string]any{
		"name":             c.Resource.Name,
		"source":           c.Resource.Source,
		"url":              c.Resource.URL,
		"path":             c.Resource.Path,
		"version":          c.Resource.Version,
		"resolved_commit":  c.Resource.ResolvedRev,
		"checksum":         c.Resource.Checksum,
		"install_path":     c.Resource.InstallPath,
		"tool":             c.Resource.Tool,
		"manifest_alias":   c.Resource.ManifestAlias,
		"context_checksum": c.Resource.ContextChecksum,
	}

	deps := make(map[string]any, len(c.Deps))
	for plural, entries := range c.Deps {
		m := make(map[string]any, len(entries))
		for key, d := range entries {
			m[key] = map[string]any{
				"name":             d.Name,
				"source":           d.Source,
				"url":              d.URL,
				"path":             d.Path,
				"version":          d.Version,
				"resolved_commit":  d.ResolvedRev,
				"checksum":         d.Checksum,
				"install_path":     d.InstallPath,
				"tool":             d.Tool,
				"manifest_alias":   d.ManifestAlias,
				"context_checksum": d.ContextChecksum,
				"content":          d.Content,
			}
		}
		deps[plural] = m
	}

	vars := c.Resource.VariantInputs
	if vars == nil {
		vars = map[string]any{}
	}

	return map[string]any{"resource": resMap, "deps": deps, "vars": vars}
}

// ContentProvider supplies the already-rendered content of a dependency, so
// the context builder never has to know how rendering works — it only
// assembles the map. The renderer (C10) implements this by recursively
// rendering each direct dependency before building its parent's context.
type ContentProvider interface {
	RenderedContent(id resource.Id) (string, error)
}

// Builder builds per-resource Contexts from a fully-resolved LockFile. It
// holds one per-build cache, the custom alias names per resource, computed
// lazily on first access (spec.md §4.9's "Caching" paragraph). Dependency
// lookups are not cached; each Build call resolves r.Dependencies afresh.
type Builder struct {
	lock *lockfile.LockFile

	mu           sync.Mutex
	aliasCache   map[resource.Id]map[string]string // lockfile dep ref -> custom name
	byID         map[resource.Id]resource.LockedResource
	childrenByID map[resource.Id][]resource.LockedResource
}

// NewBuilder constructs a Builder over a resolved lockfile.
func NewBuilder(lock *lockfile.LockFile) *Builder {
	b := &Builder{
		lock:         lock,
		aliasCache:   make(map[resource.Id]map[string]string),
		byID:         make(map[resource.Id]resource.LockedResource),
		childrenByID: make(map[resource.Id][]resource.LockedResource),
	}
	for _, r := range lock.AllResources() {
		b.byID[r.Id()] = r
	}
	return b
}

// Build assembles the Context for r, using provider to fetch each direct
// dependency's rendered content. declaredAliases is r's own `name:`
// declarations gathered during extraction, keyed by the as-declared
// dependency basename (spec.md §4.9's "Custom aliases").
func (b *Builder) Build(r resource.LockedResource, provider ContentProvider, declaredAliases map[string]string) (Context, error) {
	ctx := Context{Resource: r, Deps: make(map[string]map[string]DependencyData)}

	aliases := b.customAliases(r, declaredAliases)

	for _, ref := range r.Dependencies {
		child, ok := b.lookupByRef(r, ref)
		if !ok {
			return Context{}, errs.Wrap(errs.ErrMissingVariable, "resource %s: dependency ref %q not found in lockfile", r.Name, ref)
		}

		content, err := provider.RenderedContent(child.Id())
		if err != nil {
			return Context{}, err
		}

		plural := child.Type.Plural()
		if ctx.Deps[plural] == nil {
			ctx.Deps[plural] = make(map[string]DependencyData)
		}

		data := DependencyData{
			Name: child.Name, Source: child.Source, URL: child.URL, Path: child.Path,
			Version: child.Version, ResolvedRev: child.ResolvedRev, Checksum: child.Checksum,
			InstallPath: child.InstallPath, Tool: child.Tool, ManifestAlias: child.ManifestAlias,
			ContextChecksum: child.ContextChecksum, Content: content,
		}

		key := sanitizeKey(path.Base(child.Path))
		ctx.Deps[plural][key] = data

		if custom, ok := aliases[ref]; ok {
			ctx.Deps[plural][custom] = data
		}
	}

	return ctx, nil
}

// lookupByRef resolves a canonical dependency reference string back to its
// LockedResource, first trying the parent's variant-inputs hash (for
// context-inherited variants) and falling back to the zero-variant hash for
// direct manifest dependencies (spec.md §4.9's "Lookup" paragraph).
func (b *Builder) lookupByRef(parent resource.LockedResource, ref string) (resource.LockedResource, bool) {
	t, p, version, src := lockfile.ParseCanonicalRef(ref)

	tool := resolveTool(parent.Tool)

	tryVariant := func(variantHash string) (resource.LockedResource, bool) {
		id := resource.Id{Name: resource.CanonicalName(p, t), Source: src, Tool: tool, Type: t, VariantHash: variantHash}
		r, ok := b.byID[id]
		if ok {
			return r, true
		}
		return resource.LockedResource{}, false
	}

	parentVariantHash := resource.VariantHash(parent.VariantInputs)
	if r, ok := tryVariant(parentVariantHash); ok {
		return r, true
	}
	if r, ok := tryVariant(""); ok {
		return r, true
	}

	_ = version
	return resource.LockedResource{}, false
}

func resolveTool(parentTool string) string {
	if parentTool != "" {
		return parentTool
	}
	return toolsettings.DefaultTool
}

// sanitizeKey turns a dependency basename into a safe template-lookup key:
// hyphens become underscores, and the canonical extension is stripped
// first by the caller (path.Base on an already-extensionless Path).
func sanitizeKey(basename string) string {
	return strings.ReplaceAll(basename, "-", "_")
}

// refEntry pairs a dependency's canonical reference with the basename its
// own declared path resolves to, for alias matching.
type refEntry struct {
	basename string
	ref      string
}

// customAliases resolves r's declared `name:` aliases — gathered during
// extraction (spec.md §4.4) and passed in via declared, keyed by the
// dependency's as-declared basename (which may still contain unresolved
// template syntax; see below) mapping to the custom name — into a map keyed
// by the dependency's canonical lockfile reference, so Build can attach the
// alias entry under the right agpm.deps.<type_plural> key. Cached per
// resource identity for the lifetime of one installation run.
//
// The suffix-match fallback — when a declared basename still contains
// template syntax (e.g. "{{ agpm.project.language }}-practices"), match any
// lockfile basename ending with the literal text after the last "}}" — is
// kept exactly as the original implements it (Open Question decision, see
// DESIGN.md); it is a heuristic, not a precise match, and a stricter
// replacement was deliberately not substituted.
func (b *Builder) customAliases(r resource.LockedResource, declared map[string]string) map[string]string {
	b.mu.Lock()
	if cached, ok := b.aliasCache[r.Id()]; ok {
		b.mu.Unlock()
		return cached
	}
	b.mu.Unlock()

	byType := make(map[resource.Type][]refEntry)
	for _, ref := range r.Dependencies {
		t, p, _, _ := lockfile.ParseCanonicalRef(ref)
		byType[t] = append(byType[t], refEntry{basename: path.Base(p), ref: ref})
	}
	for t := range byType {
		sort.Slice(byType[t], func(i, j int) bool { return byType[t][i].basename < byType[t][j].basename })
	}

	aliases := make(map[string]string)
	for declaredBasename, customName := range declared {
		matchAlias(byType, declaredBasename, customName, aliases)
	}

	b.mu.Lock()
	b.aliasCache[r.Id()] = aliases
	b.mu.Unlock()
	return aliases
}

func matchAlias(byType map[resource.Type][]refEntry, declaredBasename, customName string, out map[string]string) {
	if idx := strings.LastIndex(declaredBasename, "}}"); idx != -1 {
		suffix := declaredBasename[idx+2:]
		for _, entries := range byType {
			for _, e := range entries {
				if strings.HasSuffix(e.basename, suffix) {
					out[e.ref] = customName
				}
			}
		}
		return
	}

	for _, entries := range byType {
		for _, e := range entries {
			if e.basename == declaredBasename {
				out[e.ref] = customName
			}
		}
	}
}
