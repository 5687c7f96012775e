package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/resource"
)

// fakeRepairer stands in for the real implementation's Git-cache + extractor
// side effects (spec.md §8 scenario 2: a version conflict repaired by
// adjusting the losing direct requirement's resolved version). It tracks
// every update it is asked to apply so tests can assert on them.
type fakeRepairer struct {
	tracker *Tracker

	// directAlternatives maps "constraint->targetSHA" to the version a
	// DirectAlternative call should report finding.
	directAlternatives map[string]string
	// resolvedSHAFor maps a version string back to the SHA it resolves to,
	// so ApplyVersionChange can report a realistic result.
	resolvedSHAFor map[string]string

	requiredBy string
	constraint string

	applied []VersionUpdate
}

func (f *fakeRepairer) DirectAlternative(id resource.Id, constraint, targetSHA string) (string, bool, error) {
	v, ok := f.directAlternatives[constraint+"->"+targetSHA]
	return v, ok, nil
}

func (f *fakeRepairer) ParentAlternative(parent, child resource.Id, targetSHA string) (string, map[string]any, bool, error) {
	return "", nil, false, nil
}

// ApplyVersionChange re-tracks the losing requirement at its new resolved
// SHA, mirroring how the real Repairer's re-extraction step re-tracks a
// resource after its version changes.
func (f *fakeRepairer) ApplyVersionChange(id resource.Id, newVersion string, variantInputs map[string]any) (string, error) {
	sha := f.resolvedSHAFor[newVersion]
	f.tracker.Track(TrackedRequirement{
		ResourceIdentity: id,
		RequiredBy:       f.requiredBy,
		Constraint:       f.constraint,
		ResolvedSHA:      sha,
		Mode:             ModeSemver,
	})
	return sha, nil
}

func (f *fakeRepairer) RewriteLockEntries(update VersionUpdate) {
	f.applied = append(f.applied, update)
}

func TestEngineRepairsDirectVersionConflict(t *testing.T) {
	tr := NewTracker()
	id := resource.Id{Name: "utils", Type: resource.TypeSnippet}

	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "manifest", Constraint: "^1.0.0", ResolvedSHA: "aaa", Mode: ModeSemver})
	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "agent:reviewer", Constraint: "^2.0.0", ResolvedSHA: "bbb", Mode: ModeSemver})

	repairer := &fakeRepairer{
		tracker:             tr,
		directAlternatives:  map[string]string{"^2.0.0->aaa": "1.5.0"},
		resolvedSHAFor:      map[string]string{"1.5.0": "aaa"},
		requiredBy:          "agent:reviewer",
		constraint:          "^2.0.0",
	}

	engine := NewEngine(10, 5*time.Second, zerolog.Nop())

	updates, err := engine.Run(context.Background(), tr, repairer)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, id, updates[0].ResourceIdentity)
	require.Equal(t, "1.5.0", updates[0].NewVersion)
	require.Equal(t, "aaa", updates[0].NewSHA)
	require.Len(t, repairer.applied, 1)

	require.Empty(t, tr.DetectConflicts())
}

func TestEngineReturnsErrNoAlternativeVersionWhenRepairImpossible(t *testing.T) {
	tr := NewTracker()
	id := resource.Id{Name: "utils", Type: resource.TypeSnippet}

	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "manifest", Constraint: "^1.0.0", ResolvedSHA: "aaa", Mode: ModeSemver})
	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "agent:reviewer", Constraint: "^2.0.0", ResolvedSHA: "bbb", Mode: ModeSemver})

	repairer := &fakeRepairer{tracker: tr, directAlternatives: map[string]string{}, requiredBy: "agent:reviewer", constraint: "^2.0.0"}
	engine := NewEngine(10, 5*time.Second, zerolog.Nop())

	_, err := engine.Run(context.Background(), tr, repairer)
	require.ErrorIs(t, err, errs.ErrNoAlternativeVersion)
}

// oscillatingRepairer flips the losing requirement's resolved SHA back and
// forth every call, never converging — the oscillation guard must trip
// well before MAX_ITERATIONS would otherwise be reached.
type oscillatingRepairer struct {
	tracker *Tracker
	id      resource.Id
	toggle  bool
}

func (o *oscillatingRepairer) DirectAlternative(id resource.Id, constraint, targetSHA string) (string, bool, error) {
	return "x", true, nil
}

func (o *oscillatingRepairer) ParentAlternative(parent, child resource.Id, targetSHA string) (string, map[string]any, bool, error) {
	return "", nil, false, nil
}

func (o *oscillatingRepairer) ApplyVersionChange(id resource.Id, newVersion string, variantInputs map[string]any) (string, error) {
	sha := "bbb"
	if o.toggle {
		sha = "ccc"
	}
	o.toggle = !o.toggle
	o.tracker.Track(TrackedRequirement{ResourceIdentity: o.id, RequiredBy: "agent:reviewer", Constraint: "^2.0.0", ResolvedSHA: sha, Mode: ModeSemver})
	return sha, nil
}

func (o *oscillatingRepairer) RewriteLockEntries(update VersionUpdate) {}

func TestEngineDetectsOscillation(t *testing.T) {
	tr := NewTracker()
	id := resource.Id{Name: "utils", Type: resource.TypeSnippet}

	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "manifest", Constraint: "^1.0.0", ResolvedSHA: "aaa", Mode: ModeSemver})
	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "agent:reviewer", Constraint: "^2.0.0", ResolvedSHA: "bbb", Mode: ModeSemver})

	flip := &oscillatingRepairer{tracker: tr, id: id, toggle: true}
	engine := NewEngine(1000, 5*time.Second, zerolog.Nop())

	_, err := engine.Run(context.Background(), tr, flip)
	require.ErrorIs(t, err, errs.ErrOscillation)
}

func TestEngineTimesOut(t *testing.T) {
	tr := NewTracker()
	id := resource.Id{Name: "utils", Type: resource.TypeSnippet}
	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "manifest", Constraint: "^1.0.0", ResolvedSHA: "aaa", Mode: ModeSemver})
	tr.Track(TrackedRequirement{ResourceIdentity: id, RequiredBy: "agent:reviewer", Constraint: "^2.0.0", ResolvedSHA: "bbb", Mode: ModeSemver})

	flip := &oscillatingRepairer{tracker: tr, id: id, toggle: true}
	engine := NewEngine(1_000_000, 0, zerolog.Nop())

	_, err := engine.Run(context.Background(), tr, flip)
	require.ErrorIs(t, err, errs.ErrBacktrackingTimeout)
}
