package resolve

import (
	"sync"

	"github.com/aig787/agpm-sub002/internal/resource"
)

const trackerShardCount = 32

// trackerKey identifies one TrackedRequirement row.
type trackerKey struct {
	id           resource.Id
	requiredBy   string
	declaredName string
}

// Tracker is the conflict detector's sharded concurrent map (spec.md §4.5).
// It is sharded by resource identity so unrelated resources never contend,
// and it enforces the critical deadlock rule: callers must never range over
// a shard while holding its lock and then insert into that same shard.
// The reverse-dependency map filled by RecordParent, in particular, is
// built by collecting lookups first and performing inserts only after every
// read guard has been dropped.
type Tracker struct {
	shards [trackerShardCount]trackerShard

	// reverse maps a resource identity to the identities of its direct
	// dependents, populated in topological order as extraction proceeds
	// (spec.md §4.5: "permits O(1) parent lookup at child-tracking time").
	reverseMu sync.RWMutex
	reverse   map[resource.Id][]resource.Id
}

type trackerShard struct {
	mu      sync.RWMutex
	entries map[trackerKey]TrackedRequirement
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	t := &Tracker{reverse: make(map[resource.Id][]resource.Id)}
	for i := range t.shards {
		t.shards[i].entries = make(map[trackerKey]TrackedRequirement)
	}
	return t
}

func (t *Tracker) shardFor(id resource.Id) *trackerShard {
	h := fnv32(id.Key())
	return &t.shards[h%trackerShardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Track records or overwrites one requirement. Local dependencies and
// install:false dependencies must be filtered out by the caller before
// reaching Track (spec.md §4.5: "nothing to reconcile").
func (t *Tracker) Track(req TrackedRequirement) {
	shard := t.shardFor(req.ResourceIdentity)
	key := trackerKey{req.ResourceIdentity, req.RequiredBy, req.DeclaredName}

	shard.mu.Lock()
	shard.entries[key] = req
	shard.mu.Unlock()
}

// RecordParent registers that `child` is a direct dependency of `parent`,
// for later O(1) lookup. Called once per edge during extraction, in
// topological order.
func (t *Tracker) RecordParent(parent, child resource.Id) {
	t.reverseMu.Lock()
	defer t.reverseMu.Unlock()
	t.reverse[child] = append(t.reverse[child], parent)
}

// Parents returns the recorded direct dependents of id.
func (t *Tracker) Parents(id resource.Id) []resource.Id {
	t.reverseMu.RLock()
	defer t.reverseMu.RUnlock()
	out := make([]resource.Id, len(t.reverse[id]))
	copy(out, t.reverse[id])
	return out
}

// snapshot returns every tracked requirement across all shards. It takes
// each shard's read lock in turn, copies the entries out, and releases the
// lock before moving to the next shard — never holding a lock while the
// caller (DetectConflicts) performs any further map mutation, satisfying
// the §4.5 "collect, then insert" discipline.
func (t *Tracker) snapshot() []TrackedRequirement {
	var out []TrackedRequirement
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.RLock()
		for _, v := range shard.entries {
			out = append(out, v)
		}
		shard.mu.RUnlock()
	}
	return out
}

// DetectConflicts groups the current snapshot by resource identity and
// reports every identity whose requirements disagree on ResolvedSHA
// (spec.md §4.5). The returned order is deterministic: identities sorted by
// Key(), requirements within each sorted by (RequiredBy, DeclaredName).
func (t *Tracker) DetectConflicts() []VersionConflict {
	rows := t.snapshot()

	byIdentity := make(map[resource.Id][]TrackedRequirement)
	for _, r := range rows {
		byIdentity[r.ResourceIdentity] = append(byIdentity[r.ResourceIdentity], r)
	}

	var conflicts []VersionConflict
	for id, reqs := range byIdentity {
		shas := make(map[string]bool)
		for _, r := range reqs {
			shas[r.ResolvedSHA] = true
		}
		if len(shas) < 2 {
			continue
		}

		sortRequirements(reqs)

		var creqs []ConflictingRequirement
		for _, r := range reqs {
			creqs = append(creqs, ConflictingRequirement{
				RequiredBy:    r.RequiredBy,
				Constraint:    r.Constraint,
				ResolvedSHA:   r.ResolvedSHA,
				Mode:          r.Mode,
				ParentVersion: r.ParentVersion,
				ParentSHA:     r.ParentSHA,
			})
		}
		conflicts = append(conflicts, VersionConflict{ResourceIdentity: id, Requirements: creqs})
	}

	sortConflicts(conflicts)
	return conflicts
}

func sortRequirements(reqs []TrackedRequirement) {
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0; j-- {
			a, b := reqs[j-1], reqs[j]
			if a.RequiredBy > b.RequiredBy || (a.RequiredBy == b.RequiredBy && a.DeclaredName > b.DeclaredName) {
				reqs[j-1], reqs[j] = reqs[j], reqs[j-1]
			} else {
				break
			}
		}
	}
}

func sortConflicts(conflicts []VersionConflict) {
	for i := 1; i < len(conflicts); i++ {
		for j := i; j > 0; j-- {
			if conflicts[j-1].ResourceIdentity.Key() > conflicts[j].ResourceIdentity.Key() {
				conflicts[j-1], conflicts[j] = conflicts[j], conflicts[j-1]
			} else {
				break
			}
		}
	}
}
