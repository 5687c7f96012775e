package resolve

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/version"
)

// sourceConstraint is the (source, constraint) pair the version resolver
// operates on, per spec.md §4.3.
type sourceConstraint struct {
	source     string
	constraint string
}

// VersionResolver maps (source, constraint) pairs to resolved commits
// (spec.md §4.3). It does no grouping by (source, SHA) itself; distinct
// constraints that resolve to one commit end up sharing one worktree
// because the Git cache keys worktree paths by (URL, SHA).
//
// This mirrors the two-phase "collect all pairs, then batch-resolve" shape
// confirmed against original_source/src/resolver/version_resolver.rs:
// Collect gathers every (source, constraint) pair discovered across the
// manifest and the transitive scan; ResolveAll does the actual Git/tag
// work once per unique pair.
type VersionResolver struct {
	tags TagLister

	mu      sync.Mutex
	pairs   map[sourceConstraint]bool
	results map[sourceConstraint]Resolved
}

// Resolved is one (source, constraint) pair's resolution outcome.
type Resolved struct {
	SHA  string
	Tag  string // "" when resolved via ref instead of a semver tag
	Mode ResolutionMode
}

// NewVersionResolver constructs a resolver against the given TagLister
// (normally a gitcache.Cache-backed adapter).
func NewVersionResolver(tags TagLister) *VersionResolver {
	return &VersionResolver{
		tags:    tags,
		pairs:   make(map[sourceConstraint]bool),
		results: make(map[sourceConstraint]Resolved),
	}
}

// Collect records a (source, constraint) pair discovered anywhere in the
// manifest or the transitive scan. Safe to call concurrently.
func (r *VersionResolver) Collect(source, constraint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[sourceConstraint{source, constraint}] = true
}

// SourceLookup is supplied by the caller so the resolver can look up a
// Source's URL without owning the manifest's source table itself.
type SourceLookup func(name string) (Source, bool)

// ResolveAll resolves every collected pair to a commit SHA and Resolved
// outcome; pairs that land on the same commit are not merged.
// It returns the set keyed by the original constraint string per source so
// callers can look a particular dependency's resolution back up.
func (r *VersionResolver) ResolveAll(lookup SourceLookup) (map[sourceConstraint]Resolved, error) {
	r.mu.Lock()
	pairs := make([]sourceConstraint, 0, len(r.pairs))
	for p := range r.pairs {
		pairs = append(pairs, p)
	}
	r.mu.Unlock()

	// Deterministic iteration order keeps error messages and trace logs
	// reproducible across runs even though Collect may have been called
	// concurrently.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].source != pairs[j].source {
			return pairs[i].source < pairs[j].source
		}
		return pairs[i].constraint < pairs[j].constraint
	})

	results := make(map[sourceConstraint]Resolved, len(pairs))
	for _, p := range pairs {
		src, ok := lookup(p.source)
		if !ok {
			return nil, errs.Wrap(errs.ErrSourceNotFound, "source %q referenced by constraint %q", p.source, p.constraint)
		}

		rv, err := r.resolveOne(src, p.constraint)
		if err != nil {
			return nil, err
		}
		results[p] = rv
	}

	r.mu.Lock()
	for k, v := range results {
		r.results[k] = v
	}
	r.mu.Unlock()

	return results, nil
}

func (r *VersionResolver) resolveOne(src Source, constraint string) (Resolved, error) {
	if version.IsSHA(constraint) {
		sha, err := r.tags.ResolveRef(src, constraint)
		if err != nil {
			return Resolved{}, errs.Wrap(errs.ErrRevParseFailed, "source %q constraint %q", src.Name, constraint)
		}
		return Resolved{SHA: sha, Mode: ModeGitRef}, nil
	}

	c, err := version.ParseConstraint(constraint)
	if err != nil {
		return Resolved{}, errs.Wrap(errs.ErrConstraintParse, "source %q constraint %q", src.Name, constraint)
	}

	if c.Kind == version.KindGitRef {
		sha, err := r.tags.ResolveRef(src, c.Ref)
		if err != nil {
			return Resolved{}, errs.Wrap(errs.ErrRevParseFailed, "source %q ref %q", src.Name, c.Ref)
		}
		return Resolved{SHA: sha, Mode: ModeGitRef}, nil
	}

	tags, err := r.tags.ListTags(src)
	if err != nil {
		return Resolved{}, errs.Wrap(errs.ErrTagListFailed, "source %q", src.Name)
	}

	best, err := version.BestMatch(c, tags)
	if err != nil {
		return Resolved{}, errs.Wrap(errs.ErrNoMatchingTag, "source %q constraint %q", src.Name, constraint)
	}

	return Resolved{SHA: best.SHA, Tag: best.Name, Mode: ModeSemver}, nil
}

// Lookup returns the previously resolved SHA for a given (source,
// constraint) pair, for callers that resolved via ResolveAll earlier in the
// pipeline.
func (r *VersionResolver) Lookup(source, constraint string) (Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.results[sourceConstraint{source, constraint}]
	return rv, ok
}

func (v Resolved) String() string {
	if v.Tag != "" {
		return fmt.Sprintf("%s (%s)", v.Tag, v.SHA)
	}
	return v.SHA
}
