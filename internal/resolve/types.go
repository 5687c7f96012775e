// Package resolve implements spec.md's C3 (version resolver), C5 (conflict
// detector), C6 (backtracking engine), and C7 (dependency graph) — the
// tightly-coupled heart of the resolution pipeline. Grounded in the
// teacher's gps solver (solver.go's attempt/backtrack loop,
// selection.go/satisfy.go's tracked-selection bookkeeping) but rebuilt
// around spec.md §4.6's simpler, explicitly-specified target-SHA repair
// algorithm rather than gps's general CDCL-style solver.
package resolve

import (
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/version"
)

// Source describes a single named dependency source for resolution
// purposes: everything the Git cache and version resolver need, decoupled
// from the manifest's own representation.
type Source struct {
	Name string
	URL  string
}

// PreparedSourceVersion is the intermediate artifact produced by the
// version resolver (spec.md §3): a single (source, constraint) pair mapped
// to a resolved commit and a materialized worktree, plus the per-resource
// variant inputs discovered for resources living at that commit.
type PreparedSourceVersion struct {
	Source         string
	Constraint     string
	ResolvedCommit string
	ResolvedTag    string // "" when the constraint resolved via a bare ref, not a tag
	WorktreePath   string

	// ResourceVariants records, for each resource Id observed at this
	// commit, the merged template-variable override JSON that produced it
	// (nil when no overrides were declared).
	ResourceVariants map[resource.Id]map[string]any
}

// ResolutionMode records whether a tracked requirement was resolved via
// semver matching or a direct Git ref, used by the backtracking engine's
// target-SHA tie-break (spec.md §4.6: "preferring semver-mode requirements
// over Git-ref mode").
type ResolutionMode int

const (
	ModeSemver ResolutionMode = iota
	ModeGitRef
)

// TrackedRequirement is one entry in the conflict detector's map, keyed by
// (ResourceIdentity, RequiredBy, DeclaredName) (spec.md §3/§4.5).
type TrackedRequirement struct {
	ResourceIdentity resource.Id
	RequiredBy       string // "manifest" for direct deps, else the parent's canonical reference
	DeclaredName     string

	Constraint     string
	ResolvedSHA    string
	Mode           ResolutionMode

	// ParentVersion/ParentSHA are populated only when this requirement is
	// transitive (RequiredBy != "manifest").
	ParentVersion string
	ParentSHA     string
}

// ConflictingRequirement is one requester's view inside a VersionConflict.
type ConflictingRequirement struct {
	RequiredBy    string
	Constraint    string
	ResolvedSHA   string
	Mode          ResolutionMode
	ParentVersion string
	ParentSHA     string
}

// VersionConflict groups every requirement on a single resource identity
// whose resolved SHAs disagree (spec.md §4.5).
type VersionConflict struct {
	ResourceIdentity resource.Id
	Requirements     []ConflictingRequirement
}

// DistinctSHAs returns the set of resolved SHAs present across the
// conflict's requirements, in first-seen order.
func (v VersionConflict) DistinctSHAs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range v.Requirements {
		if !seen[r.ResolvedSHA] {
			seen[r.ResolvedSHA] = true
			out = append(out, r.ResolvedSHA)
		}
	}
	return out
}

// VersionUpdate is the output of a single backtracking repair step
// (spec.md §4.6).
type VersionUpdate struct {
	ResourceIdentity resource.Id
	OldVersion       string
	NewVersion       string
	OldSHA           string
	NewSHA           string
	VariantInputs    map[string]any
}

// TagLister is the subset of gitcache.Cache the resolver/backtracker need,
// expressed as an interface so tests can supply an in-memory fake without
// touching a real Git repository — the same decoupling the teacher achieves
// with its sourceBridge interface in bridge.go.
type TagLister interface {
	ListTags(source Source) ([]version.Tag, error)
	ResolveRef(source Source, ref string) (string, error)
}
