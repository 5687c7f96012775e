package lockfile

import (
	"github.com/aig787/agpm-sub002/internal/resolve"
	"github.com/aig787/agpm-sub002/internal/resource"
	"github.com/aig787/agpm-sub002/internal/toolsettings"
)

// InstallOrder returns every resource in l in install order: a resource
// always follows everything it depends on (spec.md §4.7/§4.11 step 1),
// built by feeding a resolve.Graph from each entry's Dependencies refs.
// Unlike the extractor-time graph (built incrementally as dependencies are
// discovered), this one is reconstructed purely from the already-resolved
// lockfile, which is all C11 has available when installing from a
// previously-committed agpm.lock without re-running resolution.
func InstallOrder(l *LockFile) ([]resource.LockedResource, error) {
	byID := make(map[resource.Id]resource.LockedResource)
	for _, r := range l.AllResources() {
		byID[r.Id()] = r
	}

	g := resolve.NewGraph()
	for _, r := range l.AllResources() {
		g.AddNode(r.Id())
		for _, ref := range r.Dependencies {
			childID, ok := resolveDependencyID(byID, r, ref)
			if !ok {
				// Not resolvable from this lockfile (e.g. the referenced
				// entry lives in the private split-out lock and wasn't
				// merged back in); the renderer will raise a precise error
				// for the individual resource if its content is actually
				// needed.
				continue
			}
			g.AddEdge(r.Id(), childID)
		}
	}

	ids, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	out := make([]resource.LockedResource, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ByID indexes every resource in l by its canonical Id, for callers (the
// installer's context-checksum computation) that need to resolve a
// dependency ref to its LockedResource without walking the whole lockfile.
func ByID(l *LockFile) map[resource.Id]resource.LockedResource {
	byID := make(map[resource.Id]resource.LockedResource)
	for _, r := range l.AllResources() {
		byID[r.Id()] = r
	}
	return byID
}

// ResolveDependencyID inverts a canonical dependency ref back to the
// LockedResource Id it names, using the same variant-hash fallback chain as
// internal/template.Builder.lookupByRef (parent's own variant hash first,
// then the zero-variant hash) since a ref string alone never carries a
// variant hash.
func ResolveDependencyID(byID map[resource.Id]resource.LockedResource, parent resource.LockedResource, ref string) (resource.Id, bool) {
	return resolveDependencyID(byID, parent, ref)
}

// resolveDependencyID mirrors internal/template.Builder.lookupByRef's
// variant-hash fallback chain: try the parent's own variant hash first (for
// context-inherited overrides), then the zero-variant hash.
func resolveDependencyID(byID map[resource.Id]resource.LockedResource, parent resource.LockedResource, ref string) (resource.Id, bool) {
	t, p, _, src := ParseCanonicalRef(ref)

	tool := parent.Tool
	if tool == "" {
		tool = toolsettings.DefaultTool
	}
	name := resource.CanonicalName(p, t)

	try := func(variantHash string) (resource.Id, bool) {
		id := resource.Id{Name: name, Source: src, Tool: tool, Type: t, VariantHash: variantHash}
		_, ok := byID[id]
		return id, ok
	}

	if id, ok := try(resource.VariantHash(parent.VariantInputs)); ok {
		return id, true
	}
	return try("")
}
