package version

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/aig787/agpm-sub002/internal/errs"
)

// Tag is one entry from a repository's tag list: the raw tag name plus the
// commit it points at (already peeled past any annotated-tag object).
type Tag struct {
	Name string
	SHA  string
}

// splitTagPrefix mirrors splitPrefix, but operates on an actual tag name
// instead of a constraint: `d-v1.0.0` -> ("d-", "v1.0.0"); `v1.0.0` ->
// ("", "v1.0.0"); `a-v2.0.0` -> ("a-", "v2.0.0").
func splitTagPrefix(tag string) (prefix, rest string) {
	for i := len(tag) - 1; i >= 0; i-- {
		if tag[i] != '-' {
			continue
		}
		candidate := tag[i+1:]
		body := strings.TrimPrefix(candidate, "v")
		if body != "" && body[0] >= '0' && body[0] <= '9' {
			return tag[:i+1], candidate
		}
	}
	return "", tag
}

// candidate pairs a parsed semver with the original Tag it came from.
type candidate struct {
	tag Tag
	ver *semver.Version
}

// BestMatch filters tags by prefix scope and constraint, then returns the
// highest compatible semver, breaking ties lexicographically by tag name
// (spec.md §4.1, testable property 5).
func BestMatch(c Constraint, tags []Tag) (Tag, error) {
	var pool []candidate
	for _, t := range tags {
		prefix, body := splitTagPrefix(t.Name)
		if c.Prefix != "" && prefix != c.Prefix {
			continue
		}
		if c.Prefix == "" && prefix != "" {
			// An unscoped constraint must not match a prefixed tag
			// (testable property 5: `>=v1.0.0` must not match `d-v1.1.0`).
			continue
		}

		v, err := semver.NewVersion(strings.TrimPrefix(body, "v"))
		if err != nil {
			continue
		}

		if v.Prerelease() != "" && !c.AllowPrerelease {
			continue
		}

		if c.Range != nil && !c.Range.Check(v) {
			continue
		}
		if c.Kind == KindExact && c.Exact != nil && !v.Equal(c.Exact) {
			continue
		}

		pool = append(pool, candidate{tag: t, ver: v})
	}

	if len(pool) == 0 {
		return Tag{}, errs.Wrap(errs.ErrNoSatisfyingVersion, "constraint %q matched no tags", c.Raw)
	}

	sort.Slice(pool, func(i, j int) bool {
		cmp := pool[i].ver.Compare(pool[j].ver)
		if cmp != 0 {
			return cmp > 0
		}
		return pool[i].tag.Name < pool[j].tag.Name
	})

	return pool[0].tag, nil
}

// ConstraintSet is a conjunction of constraints on the same resource,
// gathered from multiple requesters (spec.md §4.1's "Constraint sets").
type ConstraintSet []Constraint

// Validate detects impossible pairs: two distinct exact pins, or two
// distinct Git refs, that cannot both be satisfied by one resolution.
func (s ConstraintSet) Validate() error {
	var exact *Constraint
	var ref *Constraint
	for i := range s {
		c := &s[i]
		switch c.Kind {
		case KindExact:
			if exact != nil && !exact.Exact.Equal(c.Exact) {
				return errs.Wrap(errs.ErrConflictingConstraints, "exact versions %q and %q cannot both be satisfied", exact.Raw, c.Raw)
			}
			exact = c
		case KindGitRef:
			if ref != nil && ref.Ref != c.Ref {
				return errs.Wrap(errs.ErrConflictingConstraints, "git refs %q and %q cannot both be satisfied", ref.Raw, c.Raw)
			}
			ref = c
		}
	}
	return nil
}

// BestMatchAll resolves the whole set against a tag list: every
// KindSemverRange/KindExact constraint in the set must agree on a single
// winning tag. A lone KindGitRef is resolved by the caller via rev-parse,
// not here.
func (s ConstraintSet) BestMatchAll(tags []Tag) (Tag, error) {
	if err := s.Validate(); err != nil {
		return Tag{}, err
	}

	allowPrerelease := false
	for _, c := range s {
		if c.AllowPrerelease {
			allowPrerelease = true
		}
	}

	var pool []candidate
	for _, t := range tags {
		prefix, body := splitTagPrefix(t.Name)
		v, err := semver.NewVersion(strings.TrimPrefix(body, "v"))
		if err != nil {
			continue
		}
		if v.Prerelease() != "" && !allowPrerelease {
			continue
		}

		ok := true
		for _, c := range s {
			if c.Kind == KindGitRef {
				continue
			}
			if c.Prefix != "" && prefix != c.Prefix {
				ok = false
				break
			}
			if c.Prefix == "" && prefix != "" {
				ok = false
				break
			}
			if c.Kind == KindExact && !v.Equal(c.Exact) {
				ok = false
				break
			}
			if c.Kind == KindSemverRange && c.Range != nil && !c.Range.Check(v) {
				ok = false
				break
			}
		}
		if ok {
			pool = append(pool, candidate{tag: t, ver: v})
		}
	}

	if len(pool) == 0 {
		return Tag{}, errs.Wrap(errs.ErrNoSatisfyingVersion, "no tag satisfies constraint set")
	}

	sort.Slice(pool, func(i, j int) bool {
		cmp := pool[i].ver.Compare(pool[j].ver)
		if cmp != 0 {
			return cmp > 0
		}
		return pool[i].tag.Name < pool[j].tag.Name
	})

	return pool[0].tag, nil
}
