package resolve

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// Repairer supplies the side effects the backtracking engine cannot perform
// itself: finding alternative versions (which needs the Git cache and tag
// listing) and re-extracting transitive dependencies after a parent's
// version changes (which needs a worktree and the C4 extractor). Expressing
// these as an interface keeps this package's logic testable without a real
// Git repository, mirroring the teacher's sourceBridge abstraction in
// bridge.go.
type Repairer interface {
	// DirectAlternative enumerates versions of id's own resource that
	// satisfy constraint and resolve to targetSHA. ok is false if none
	// exists.
	DirectAlternative(id resource.Id, constraint, targetSHA string) (newVersion string, ok bool, err error)

	// ParentAlternative enumerates versions of parent whose transitive
	// extractor output resolves child to targetSHA. ok is false if none
	// exists.
	ParentAlternative(parent, child resource.Id, targetSHA string) (newVersion string, variantInputs map[string]any, ok bool, err error)

	// ApplyVersionChange re-resolves id at newVersion, creates any worktree
	// needed, re-extracts its transitive dependencies, and re-tracks them
	// against the Tracker. It returns the new resolved SHA for id.
	ApplyVersionChange(id resource.Id, newVersion string, variantInputs map[string]any) (newSHA string, err error)

	// RewriteLockEntries updates any already-built lockfile/prepared-version
	// state referencing (source, oldSHA) to (source, newSHA, newVersion),
	// per spec.md §4.6's outer loop.
	RewriteLockEntries(update VersionUpdate)
}

// Engine runs the backtracking outer loop described in spec.md §4.6.
type Engine struct {
	maxIterations int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewEngine constructs an Engine bounded by maxIterations and timeout.
func NewEngine(maxIterations int, timeout time.Duration, log zerolog.Logger) *Engine {
	return &Engine{maxIterations: maxIterations, timeout: timeout, log: log}
}

// conflictFingerprint is the order-insensitive multiset of
// (resource_identity, resolved_sha) pairs used for oscillation detection
// (spec.md §4.6).
type conflictFingerprint map[string]int

func fingerprint(conflicts []VersionConflict) conflictFingerprint {
	fp := make(conflictFingerprint)
	for _, c := range conflicts {
		for _, r := range c.Requirements {
			fp[c.ResourceIdentity.Key()+"@"+r.ResolvedSHA]++
		}
	}
	return fp
}

func (a conflictFingerprint) equal(b conflictFingerprint) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Run executes the backtracking loop against tracker, using repairer for
// side effects, until no conflicts remain, the iteration/timeout bounds are
// exceeded, or the conflict set oscillates. It returns every VersionUpdate
// applied along the way, in application order.
func (e *Engine) Run(ctx context.Context, tracker *Tracker, repairer Repairer) ([]VersionUpdate, error) {
	deadline := time.Now().Add(e.timeout)

	var applied []VersionUpdate
	var twoAgo, oneAgo conflictFingerprint

	for iteration := 1; ; iteration++ {
		conflicts := tracker.DetectConflicts()
		if len(conflicts) == 0 {
			return applied, nil
		}

		if iteration > e.maxIterations {
			return applied, errs.Wrap(errs.ErrUnresolvableConflicts, "%s", describeConflicts(conflicts))
		}
		if time.Now().After(deadline) {
			return applied, errs.ErrBacktrackingTimeout
		}
		select {
		case <-ctx.Done():
			return applied, errs.ErrBacktrackingTimeout
		default:
		}

		current := fingerprint(conflicts)
		if twoAgo != nil && current.equal(twoAgo) {
			return applied, errs.ErrOscillation
		}
		twoAgo, oneAgo = oneAgo, current

		updates, err := e.computeUpdates(conflicts, repairer)
		if err != nil {
			return applied, err
		}
		if len(updates) == 0 {
			return applied, errs.Wrap(errs.ErrNoAlternativeVersion, "%s", describeConflicts(conflicts))
		}

		e.log.Info().Int("iteration", iteration).Int("conflicts", len(conflicts)).Int("updates", len(updates)).Msg("backtracking iteration")

		for _, u := range updates {
			newSHA, err := repairer.ApplyVersionChange(u.ResourceIdentity, u.NewVersion, u.VariantInputs)
			if err != nil {
				return applied, err
			}
			u.NewSHA = newSHA
			repairer.RewriteLockEntries(u)
			applied = append(applied, u)
		}
	}
}

// computeUpdates implements spec.md §4.6's per-iteration repair pass:
// target-SHA selection per conflict, then direct-or-parent repair for every
// non-matching requirement.
func (e *Engine) computeUpdates(conflicts []VersionConflict, repairer Repairer) ([]VersionUpdate, error) {
	var updates []VersionUpdate

	for _, conflict := range conflicts {
		target := selectTargetSHA(conflict)

		for _, req := range conflict.Requirements {
			if req.ResolvedSHA == target {
				continue
			}

			if req.RequiredBy == "manifest" || req.ParentSHA == "" {
				newVersion, ok, err := repairer.DirectAlternative(conflict.ResourceIdentity, req.Constraint, target)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				updates = append(updates, VersionUpdate{
					ResourceIdentity: conflict.ResourceIdentity,
					OldVersion:       req.Constraint,
					NewVersion:       newVersion,
					OldSHA:           req.ResolvedSHA,
					NewSHA:           target,
				})
				continue
			}

			parentID := parentIdentity(req)
			newVersion, variantInputs, ok, err := repairer.ParentAlternative(parentID, conflict.ResourceIdentity, target)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			updates = append(updates, VersionUpdate{
				ResourceIdentity: parentID,
				OldVersion:       req.ParentVersion,
				NewVersion:       newVersion,
				OldSHA:           req.ParentSHA,
				NewSHA:           target,
				VariantInputs:    variantInputs,
			})
		}
	}

	return dedupeUpdates(updates), nil
}

// parentIdentity recovers the parent's resource.Id from a transitive
// requirement's RequiredBy string. RequiredBy is the parent's canonical
// reference (see spec.md §9's parent-metadata canonicalization open
// question, decided in DESIGN.md): `type:path[@version]` or
// `source/type:path[@version]`. The backtracking engine only needs enough
// of that identity to hand back to the Repairer, which is expected to
// resolve it against its own lockfile/tracked state; here we reconstruct
// the minimal Id the Repairer can use as a lookup key.
func parentIdentity(req TrackedRequirement) resource.Id {
	return resource.Id{Name: req.RequiredBy, Tool: "", Type: "", VariantHash: ""}
}

// selectTargetSHA implements spec.md §4.6's deterministic target-SHA
// selection: most requirements, ties broken by preferring semver-mode
// requirements, then by alphabetical SHA.
func selectTargetSHA(conflict VersionConflict) string {
	type group struct {
		sha      string
		count    int
		hasSemver bool
	}

	groups := make(map[string]*group)
	for _, r := range conflict.Requirements {
		g, ok := groups[r.ResolvedSHA]
		if !ok {
			g = &group{sha: r.ResolvedSHA}
			groups[r.ResolvedSHA] = g
		}
		g.count++
		if r.Mode == ModeSemver {
			g.hasSemver = true
		}
	}

	var ordered []*group
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.count != b.count {
			return a.count > b.count
		}
		if a.hasSemver != b.hasSemver {
			return a.hasSemver
		}
		return a.sha < b.sha
	})

	return ordered[0].sha
}

func dedupeUpdates(updates []VersionUpdate) []VersionUpdate {
	seen := make(map[resource.Id]bool)
	var out []VersionUpdate
	for _, u := range updates {
		if seen[u.ResourceIdentity] {
			continue
		}
		seen[u.ResourceIdentity] = true
		out = append(out, u)
	}
	return out
}

func describeConflicts(conflicts []VersionConflict) string {
	var b []byte
	for _, c := range conflicts {
		b = append(b, c.ResourceIdentity.Key()...)
		b = append(b, ": "...)
		for i, r := range c.Requirements {
			if i > 0 {
				b = append(b, ", "...)
			}
			b = append(b, (r.RequiredBy + "@" + r.ResolvedSHA)...)
		}
		b = append(b, '\n')
	}
	return string(b)
}
