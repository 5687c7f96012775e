// Package lockfile builds and codecs agpm.lock: the fully-resolved,
// reproducible record of every installed resource and the sources it came
// from. Grounded in the teacher's lock.go (same raw/cooked split, same
// "memo"-style top-level version stamp) and in
// original_source/src/lockfile/mod.rs's documented TOML shape, which this
// package follows field-for-field (sources array plus one array-of-tables
// per resource type) rather than the teacher's single flat `projects` array,
// since spec.md's resources are typed and the original format reflects that.
package lockfile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// FileName is the lockfile's canonical filename within a project directory.
const FileName = "agpm.lock"

// PrivateFileName is the filename for the gitignored split-out lockfile
// holding entries sourced from a private, per-user manifest (spec.md §11's
// supplemented private-dependency feature, grounded in
// original_source/src/lockfile/private_lock.rs).
const PrivateFileName = "agpm.private.lock"

// FormatVersion is the current lockfile format version (spec.md §3).
const FormatVersion = 1

// LockFile is the cooked, in-memory form of agpm.lock.
type LockFile struct {
	Version int
	Sources []resource.LockedSource
	// Resources groups every locked resource by type, in AllTypes order when
	// serialized.
	Resources map[resource.Type][]resource.LockedResource
}

// New returns an empty LockFile with every type's slice initialized.
func New() *LockFile {
	l := &LockFile{Version: FormatVersion, Resources: make(map[resource.Type][]resource.LockedResource)}
	for _, t := range resource.AllTypes {
		l.Resources[t] = nil
	}
	return l
}

// AllResources returns every locked resource across all types, in a fixed
// deterministic order: by Type (AllTypes order), then Name, then Source.
func (l *LockFile) AllResources() []resource.LockedResource {
	var out []resource.LockedResource
	rank := make(map[resource.Type]int, len(resource.AllTypes))
	for i, t := range resource.AllTypes {
		rank[t] = i
		out = append(out, l.Resources[t]...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return rank[out[i].Type] < rank[out[j].Type]
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// CanonicalRef renders the canonical dependency-reference string used both
// as a LockedResource.Dependencies entry and as a parent-identification key
// elsewhere in the pipeline: `type:path[@version]`, or
// `source/type:path[@version]` when the resource came from a named source
// (spec.md §9's parent-metadata canonicalization decision, recorded in
// DESIGN.md).
func CanonicalRef(r resource.LockedResource) string {
	ref := fmt.Sprintf("%s:%s", r.Type, r.Path)
	if r.Version != "" {
		ref += "@" + r.Version
	}
	if r.Source != "" {
		ref = r.Source + "/" + ref
	}
	return ref
}

// ParseCanonicalRef inverts CanonicalRef: `type:path[@version]` or
// `source/type:path[@version]`. Shared by the template context builder
// (resolving a dependency ref back to its LockedResource) and the installer
// (building install-order edges from each entry's Dependencies list).
func ParseCanonicalRef(ref string) (t resource.Type, path string, version string, source string) {
	rest := ref
	// A "/" before the first ":" marks a source prefix; a "/" inside the
	// path (which always follows the ":") does not.
	if idx := strings.Index(rest, "/"); idx != -1 {
		if colonIdx := strings.Index(rest, ":"); colonIdx == -1 || idx < colonIdx {
			source = rest[:idx]
			rest = rest[idx+1:]
		}
	}

	colonIdx := strings.Index(rest, ":")
	if colonIdx == -1 {
		return resource.Type(rest), "", "", source
	}
	t = resource.Type(rest[:colonIdx])
	rest = rest[colonIdx+1:]

	if at := strings.LastIndex(rest, "@"); at != -1 {
		path, version = rest[:at], rest[at+1:]
	} else {
		path = rest
	}
	return t, path, version, source
}

// Builder accumulates LockedResource entries (typically one per resolved
// resource.Id) and assembles them into a deterministic LockFile, applying
// spec.md §4.8's duplicate-merge and install-path-collision rules.
type Builder struct {
	sources   map[string]resource.LockedSource
	resources map[resource.Id]resource.LockedResource
}

// NewBuilder constructs an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		sources:   make(map[string]resource.LockedSource),
		resources: make(map[resource.Id]resource.LockedResource),
	}
}

// AddSource records a resolved source. Calling it twice for the same name
// with a different ResolvedRev overwrites the prior value — the version
// resolver always resolves all constraints against a source before the
// lockfile is built, so by the time AddSource runs every pair has already
// agreed on one commit per (source, constraint); a later call here can only
// be a legitimate correction, not a conflict (conflicts are caught earlier,
// by the conflict tracker).
func (b *Builder) AddSource(src resource.LockedSource) {
	b.sources[src.Name] = src
}

// AddResource records one locked resource. If an entry already exists for
// the same Id, the winner is chosen by spec.md §4.8's deterministic replace
// policy: prefer the entry with a manifest alias; otherwise prefer the
// lexicographically smaller name. The loser's Dependencies and install
// eligibility still contribute to the merged result, since both entries
// necessarily agree on ResolvedRev once the backtracking engine has
// converged — they differ only in bookkeeping fields.
func (b *Builder) AddResource(r resource.LockedResource) {
	id := r.Id()
	existing, ok := b.resources[id]
	if !ok {
		b.resources[id] = r
		return
	}
	b.resources[id] = mergeLockedResource(existing, r)
}

func mergeLockedResource(a, b resource.LockedResource) resource.LockedResource {
	winner, loser := a, b
	switch {
	case a.ManifestAlias != "" && b.ManifestAlias == "":
		winner, loser = a, b
	case b.ManifestAlias != "" && a.ManifestAlias == "":
		winner, loser = b, a
	case b.Name < a.Name:
		winner, loser = b, a
	}

	merged := winner
	// A resource is installed if ANY requester wants it installed.
	if loser.InstallEligible() && !merged.InstallEligible() {
		installTrue := true
		merged.Install = &installTrue
	}
	merged.Dependencies = mergeDependencyRefs(a.Dependencies, b.Dependencies)
	return merged
}

func mergeDependencyRefs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, refs := range [][]string{a, b} {
		for _, r := range refs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Build assembles the final LockFile, detecting install-path collisions
// between distinct resources (spec.md §4.8: two different resource
// identities must never write to the same InstallPath).
func (b *Builder) Build() (*LockFile, error) {
	byPath := make(map[string]resource.Id)
	for id, r := range b.resources {
		if !r.InstallEligible() {
			continue
		}
		if other, ok := byPath[r.InstallPath]; ok && other != id {
			return nil, errs.Wrap(errs.ErrInstallPathConflict, "install path %q claimed by both %s and %s", r.InstallPath, other.Key(), id.Key())
		}
		byPath[r.InstallPath] = id
	}

	l := New()
	for _, r := range b.resources {
		l.Resources[r.Type] = append(l.Resources[r.Type], r)
	}
	for _, t := range resource.AllTypes {
		sort.Slice(l.Resources[t], func(i, j int) bool {
			ri, rj := l.Resources[t][i], l.Resources[t][j]
			if ri.Name != rj.Name {
				return ri.Name < rj.Name
			}
			return ri.Source < rj.Source
		})
	}

	var sources []resource.LockedSource
	for _, s := range b.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	l.Sources = sources

	return l, nil
}

// SplitByPrivacy partitions l into a public LockFile (suitable for
// committing as agpm.lock) and a private LockFile (written to
// agpm.private.lock, which callers are expected to gitignore), per each
// resource's `is_private` flag. Only MergePrivate sets that flag (on entries
// folded back in from a private lockfile); the install pipeline builds every
// resource with it unset, so a freshly built lockfile splits into an empty
// private part.
func (l *LockFile) SplitByPrivacy() (public *LockFile, private *LockFile) {
	public, private = New(), New()
	public.Version, private.Version = l.Version, l.Version
	public.Sources = l.Sources

	for _, t := range resource.AllTypes {
		for _, r := range l.Resources[t] {
			if r.IsPrivate {
				private.Resources[t] = append(private.Resources[t], r)
			} else {
				public.Resources[t] = append(public.Resources[t], r)
			}
		}
	}
	return public, private
}

// MergePrivate folds a previously-split-out private LockFile's entries back
// into l, tagging each with IsPrivate so a subsequent SplitByPrivacy call
// round-trips them correctly.
func (l *LockFile) MergePrivate(private *LockFile) {
	for _, t := range resource.AllTypes {
		for _, r := range private.Resources[t] {
			r.IsPrivate = true
			l.Resources[t] = append(l.Resources[t], r)
		}
	}
}

// --- TOML codec -------------------------------------------------------

type rawLockFile struct {
	Version int                   `toml:"version"`
	Sources []resource.LockedSource `toml:"sources"`

	Agents     []resource.LockedResource `toml:"agents"`
	Snippets   []resource.LockedResource `toml:"snippets"`
	Commands   []resource.LockedResource `toml:"commands"`
	Scripts    []resource.LockedResource `toml:"scripts"`
	Hooks      []resource.LockedResource `toml:"hooks"`
	MCPServers []resource.LockedResource `toml:"mcp-servers"`
	Skills     []resource.LockedResource `toml:"skills"`
}

// Load reads and parses the lockfile at path.
func Load(path string) (*LockFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading lockfile %s", path)
	}
	return Parse(b)
}

// Parse decodes raw TOML bytes into a cooked LockFile.
func Parse(b []byte) (*LockFile, error) {
	var raw rawLockFile
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing lockfile")
	}
	if raw.Version != FormatVersion {
		return nil, errs.Wrap(errs.ErrUnsupportedLockVersion, "lockfile version %d, expected %d", raw.Version, FormatVersion)
	}

	l := New()
	l.Version = raw.Version
	l.Sources = raw.Sources

	assign := map[resource.Type][]resource.LockedResource{
		resource.TypeAgent:     raw.Agents,
		resource.TypeSnippet:   raw.Snippets,
		resource.TypeCommand:   raw.Commands,
		resource.TypeScript:    raw.Scripts,
		resource.TypeHook:      raw.Hooks,
		resource.TypeMCPServer: raw.MCPServers,
		resource.TypeSkill:     raw.Skills,
	}
	for t, rs := range assign {
		for i := range rs {
			rs[i].Type = t
		}
		l.Resources[t] = rs
	}

	return l, nil
}

// Save writes the lockfile back out as TOML.
func Save(path string, l *LockFile) error {
	raw := rawLockFile{
		Version:    l.Version,
		Sources:    l.Sources,
		Agents:     l.Resources[resource.TypeAgent],
		Snippets:   l.Resources[resource.TypeSnippet],
		Commands:   l.Resources[resource.TypeCommand],
		Scripts:    l.Resources[resource.TypeScript],
		Hooks:      l.Resources[resource.TypeHook],
		MCPServers: l.Resources[resource.TypeMCPServer],
		Skills:     l.Resources[resource.TypeSkill],
	}

	var sb strings.Builder
	sb.WriteString("# Auto-generated lockfile - DO NOT EDIT\n")
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(raw); err != nil {
		return errors.Wrap(err, "encoding lockfile")
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
