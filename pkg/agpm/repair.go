package agpm

import (
	"github.com/aig787/agpm-sub002/internal/extract"
	"github.com/aig787/agpm-sub002/internal/resolve"
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/version"
)

// repairer implements resolve.Repairer against the pipeline's node map
// (spec.md §4.6). It is the pipeline's only consumer of resolve.Engine, and
// the only place version.BestMatch is asked for more than one answer at a
// time (see candidatesForConstraint).
type repairer struct {
	p *pipeline
}

// DirectAlternative looks for a tag of id's own source that both satisfies
// constraint and resolves to targetSHA.
func (rp *repairer) DirectAlternative(id resource.Id, constraint, targetSHA string) (string, bool, error) {
	src, ok := rp.p.sources[id.Source]
	if !ok {
		return "", false, nil
	}

	c, err := version.ParseConstraint(constraint)
	if err != nil {
		return "", false, err
	}

	if c.Kind != version.KindSemverRange {
		// Git-ref and exact constraints name one specific thing; the only
		// way they can satisfy a new target SHA is if that ref happens to
		// already point there.
		sha, err := rp.p.vcs.ResolveRef(src, constraintRef(c))
		if err != nil {
			return "", false, nil
		}
		if sha == targetSHA {
			return constraint, true, nil
		}
		return "", false, nil
	}

	tags, err := rp.p.vcs.ListTags(src)
	if err != nil {
		return "", false, err
	}

	var matching []version.Tag
	for _, t := range tags {
		if t.SHA == targetSHA {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return "", false, nil
	}

	best, err := version.BestMatch(c, matching)
	if err != nil {
		return "", false, nil
	}
	return best.Name, true, nil
}

// ParentAlternative searches parent's other tags (within its own declared
// constraint range) for one whose extracted dependency list resolves child
// to targetSHA. Only meaningful when parent was itself constrained by a
// semver range — an exact pin or a bare Git ref names one specific
// commit, so there is no "other version" to try.
func (rp *repairer) ParentAlternative(parent, child resource.Id, targetSHA string) (string, map[string]any, bool, error) {
	pn, ok := rp.p.refIndex[parent.Name]
	if !ok {
		return "", nil, false, nil
	}

	c, err := version.ParseConstraint(pn.spec.Version)
	if err != nil || c.Kind != version.KindSemverRange {
		return "", nil, false, nil
	}

	src, ok := rp.p.sources[pn.spec.Source]
	if !ok {
		return "", nil, false, nil
	}
	tags, err := rp.p.vcs.ListTags(src)
	if err != nil {
		return "", nil, false, err
	}

	for _, cand := range candidatesForConstraint(c, tags) {
		if cand.SHA == pn.resolvedSHA {
			continue // already the current resolution, not an alternative
		}

		wt, err := rp.p.vcs.worktree(src, cand.SHA, pn.id.Key()+"@"+cand.Name)
		if err != nil {
			continue
		}
		content, err := readSourceFile(wt, pn.spec.Path, pn.spec.Type)
		if err != nil {
			continue
		}
		deps, err := extract.Extract(rp.p.meta, pn.spec.Path, pn.spec.Type, content, pn.spec.Vars, pn.canonicalRef())
		if err != nil {
			continue
		}

		for _, d := range deps {
			if !matchesChild(d, child) {
				continue
			}
			rv, err := rp.p.resolveConstraint(d.Source, d.Version)
			if err != nil {
				continue
			}
			if rv.SHA == targetSHA {
				return cand.Name, pn.spec.Vars, true, nil
			}
		}
	}

	return "", nil, false, nil
}

// ApplyVersionChange re-resolves id at newVersion, updates its node and
// worktree in place, and re-extracts its own dependencies since a different
// version may declare a different dependency set.
func (rp *repairer) ApplyVersionChange(id resource.Id, newVersion string, variantInputs map[string]any) (string, error) {
	n, ok := rp.p.nodes[id]
	if !ok {
		return "", nil
	}

	oldRef := n.canonicalRef()
	src := rp.p.sources[n.spec.Source]

	rv, err := rp.p.resolveConstraint(n.spec.Source, newVersion)
	if err != nil {
		return "", err
	}

	wt, err := rp.p.vcs.worktree(src, rv.SHA, id.Key())
	if err != nil {
		return "", err
	}

	n.spec.Version = newVersion
	n.resolvedSHA = rv.SHA
	n.resolvedTag = rv.Tag
	n.mode = rv.Mode
	n.worktreePath = wt
	if variantInputs != nil {
		n.spec.Vars = variantInputs
	}

	content, err := readSourceFile(wt, n.spec.Path, n.spec.Type)
	if err != nil {
		return "", err
	}
	n.content = content

	deps, err := extract.Extract(rp.p.meta, n.spec.Path, n.spec.Type, content, n.spec.Vars, n.canonicalRef())
	if err != nil {
		return "", err
	}
	n.deps = deps

	delete(rp.p.refIndex, oldRef)
	rp.p.refIndex[n.canonicalRef()] = n

	return rv.SHA, nil
}

// RewriteLockEntries is a deliberate no-op: buildLockFile (agpm.go) derives
// every LockedResource fresh from the converged node map after Engine.Run
// returns, rather than threading partially-built lockfile entries through
// the backtracking loop, so there is nothing upstream to rewrite here.
func (rp *repairer) RewriteLockEntries(update resolve.VersionUpdate) {
	rp.p.log.Debug().
		Str("resource", update.ResourceIdentity.Key()).
		Str("old_sha", update.OldSHA).
		Str("new_sha", update.NewSHA).
		Msg("backtracking applied version update")
}

// constraintRef extracts the ref string ResolveRef expects from a
// non-semver-range constraint: the branch/tag/SHA for a Git-ref constraint,
// or the exact version's own raw text for an exact pin.
func constraintRef(c version.Constraint) string {
	if c.Kind == version.KindGitRef {
		return c.Ref
	}
	return c.Raw
}

func matchesChild(d resource.DependencySpec, child resource.Id) bool {
	return d.Source == child.Source &&
		d.Type == child.Type &&
		resource.CanonicalName(d.Path, d.Type) == child.Name
}

// candidatesForConstraint enumerates every tag satisfying c, in the same
// best-first order version.BestMatch itself uses, by repeatedly calling
// BestMatch against a shrinking pool. This reuses BestMatch's own
// prefix/prerelease/range filtering rather than re-deriving it, at the cost
// of O(n^2) tag comparisons — acceptable since a source's tag list is
// small relative to how rarely the backtracking engine needs more than the
// first candidate.
func candidatesForConstraint(c version.Constraint, tags []version.Tag) []version.Tag {
	remaining := append([]version.Tag{}, tags...)
	var out []version.Tag
	for len(remaining) > 0 {
		best, err := version.BestMatch(c, remaining)
		if err != nil {
			break
		}
		out = append(out, best)

		next := remaining[:0]
		for _, t := range remaining {
			if t != best {
				next = append(next, t)
			}
		}
		remaining = next
	}
	return out
}
