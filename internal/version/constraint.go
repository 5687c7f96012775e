// Package version implements spec.md's C1: parsing and combining version
// constraints, deriving the best match from a tag set, and tracking
// prefix-scoped tags. Grounded in the teacher's gps constraint handling
// (constraint_test.go, version_test.go), rebuilt around
// github.com/Masterminds/semver/v3 instead of the vendored v1 the teacher
// used.
package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/aig787/agpm-sub002/internal/errs"
)

// Kind distinguishes how a Constraint was parsed, which in turn drives how
// the backtracking engine compares two requirements on the same resource
// (spec.md §4.6: "preferring semver-mode requirements over Git-ref mode").
type Kind int

const (
	// KindSemverRange is a comma-combined set of semver operators (^, ~,
	// >=, <, =) or the `latest`/`latest-prerelease`/`*` keywords. A lone
	// `=X.Y.Z` is not a range: it parses as KindExact.
	KindSemverRange Kind = iota
	// KindExact is a single exact version, with or without a leading `v`
	// or `=`.
	KindExact
	// KindGitRef is anything else: a branch name, a tag name that isn't
	// itself parseable as a bare semver, or a raw commit SHA.
	KindGitRef
)

// Constraint is a parsed version.Constraint (spec.md §4.1). Exactly one of
// its fields is meaningful, selected by Kind.
type Constraint struct {
	Kind Kind

	// Raw is the original constraint string, always kept for error
	// messages and for round-tripping into the lockfile's `version` field.
	Raw string

	// Prefix is the lexical tag prefix this constraint is scoped to (e.g.
	// "d-" for `d->=v1.0.0`), or "" if unscoped.
	Prefix string

	// Range is populated when Kind == KindSemverRange.
	Range *semver.Constraints
	// AllowPrerelease is true for `latest-prerelease`, or for any range
	// that explicitly mentions a prerelease identifier.
	AllowPrerelease bool
	// StableOnly distinguishes `latest`/`*` (true) from an unconstrained
	// Git ref resolution (not applicable; only meaningful when
	// Kind==KindSemverRange and Range is nil, meaning "any stable tag").
	StableOnly bool

	// Exact is populated when Kind == KindExact: the semver being pinned.
	Exact *semver.Version

	// Ref is populated when Kind == KindGitRef: a branch name, tag name,
	// or commit SHA/ref to pass straight to `git rev-parse`.
	Ref string
}

// isHexSHA reports whether s looks like a full 40-character commit SHA,
// which §4.3 says bypasses tag listing entirely.
func isHexSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// IsSHA reports whether the raw constraint string is a full commit hash.
func IsSHA(raw string) bool {
	return isHexSHA(raw)
}

// splitPrefix implements §4.1's prefix-scoping rule: the prefix is
// everything up to and including the final `-` that precedes a
// `v`-prefixed (or bare-digit) semver. `d->=v1.0.0` splits into prefix
// "d-" and constraint body ">=v1.0.0"; a bare `>=v1.0.0` has no prefix.
func splitPrefix(raw string) (prefix, rest string) {
	// Operators and keywords never carry a prefix dash meaningfully before
	// them in valid input, but a user could write `team-^1.2.0`. Scan for
	// the last '-' such that what follows, after stripping a leading
	// operator run, starts with an optional 'v' then a digit.
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != '-' {
			continue
		}
		candidate := raw[i+1:]
		body := strings.TrimLeft(candidate, "^~>=<! ")
		body = strings.TrimPrefix(body, "v")
		if body != "" && body[0] >= '0' && body[0] <= '9' {
			return raw[:i+1], candidate
		}
	}
	return "", raw
}

// ParseConstraint parses a constraint string per §4.1's grammar: exact
// version, semver range/keyword, or Git ref, with optional prefix scoping.
func ParseConstraint(raw string) (Constraint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "HEAD" {
		return Constraint{Kind: KindGitRef, Raw: raw, Ref: "HEAD"}, nil
	}

	if isHexSHA(trimmed) {
		return Constraint{Kind: KindGitRef, Raw: raw, Ref: trimmed}, nil
	}

	prefix, body := splitPrefix(trimmed)

	switch body {
	case "latest", "*":
		return Constraint{Kind: KindSemverRange, Raw: raw, Prefix: prefix, StableOnly: true}, nil
	case "latest-prerelease":
		return Constraint{Kind: KindSemverRange, Raw: raw, Prefix: prefix, AllowPrerelease: true}, nil
	}

	// A lone `=X.Y.Z` pins one version, exactly like a bare `X.Y.Z`.
	if pinned := strings.TrimPrefix(body, "="); pinned != body && !strings.ContainsAny(pinned, "=<>^~,*") {
		if v, err := semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(pinned), "v")); err == nil {
			return Constraint{Kind: KindExact, Raw: raw, Prefix: prefix, Exact: v}, nil
		}
	}

	if looksLikeSemverOperatorExpr(body) {
		rng, err := semver.NewConstraint(normalizeV(body))
		if err != nil {
			return Constraint{}, errs.Wrap(errs.ErrConstraintParse, "parsing range %q", raw)
		}
		return Constraint{
			Kind:            KindSemverRange,
			Raw:             raw,
			Prefix:          prefix,
			Range:           rng,
			AllowPrerelease: strings.ContainsAny(body, "-") && mentionsPrerelease(body),
		}, nil
	}

	// Bare exact version, with or without leading 'v' and optional prefix.
	if v, err := semver.NewVersion(strings.TrimPrefix(body, "v")); err == nil {
		return Constraint{Kind: KindExact, Raw: raw, Prefix: prefix, Exact: v}, nil
	}

	// Anything left over is a Git ref: branch name, tag name, or a ref
	// expression we hand straight to rev-parse.
	return Constraint{Kind: KindGitRef, Raw: raw, Ref: trimmed}, nil
}

func normalizeV(s string) string {
	// semver.NewConstraint/NewVersion already tolerate a leading 'v' on
	// each clause, but a bare 'v' prefix on an exact version needs
	// stripping before NewVersion so `v1.2.3` and `1.2.3` parse equal.
	return s
}

func looksLikeSemverOperatorExpr(body string) bool {
	for _, op := range []string{"^", "~", ">=", "<=", ">", "<", "=", ","} {
		if strings.Contains(body, op) {
			return true
		}
	}
	return false
}

func mentionsPrerelease(body string) bool {
	for _, clause := range strings.Split(body, ",") {
		clause = strings.TrimSpace(clause)
		clause = strings.TrimLeft(clause, "^~>=<! ")
		clause = strings.TrimPrefix(clause, "v")
		if strings.Contains(clause, "-") {
			return true
		}
	}
	return false
}
