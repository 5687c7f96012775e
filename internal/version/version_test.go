package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConstraintKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{"1.2.3", KindExact},
		{"v1.2.3", KindExact},
		{"^1.0", KindSemverRange},
		{"~1.2", KindSemverRange},
		{">=1.0.0, <2.0.0", KindSemverRange},
		{"latest", KindSemverRange},
		{"*", KindSemverRange},
		{"latest-prerelease", KindSemverRange},
		{"main", KindGitRef},
		{"feature/foo", KindGitRef},
		{"d41d8cd98f00b204e9800998ecf8427e00000000", KindGitRef},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			c, err := ParseConstraint(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.kind, c.Kind)
		})
	}
}

func TestIsSHA(t *testing.T) {
	require.True(t, IsSHA("d41d8cd98f00b204e9800998ecf8427e0000000"+"0"))
	require.False(t, IsSHA("v1.2.3"))
	require.False(t, IsSHA("d41d8cd98f00b204e9800998ecf8427e"))
}

func TestPrefixScoping(t *testing.T) {
	// Scenario 6 from spec.md §8: tags `d-v1.0.0`, `d-v1.1.0`, `v1.0.0`, `a-v2.0.0`.
	tags := []Tag{
		{Name: "d-v1.0.0", SHA: "sha-d100"},
		{Name: "d-v1.1.0", SHA: "sha-d110"},
		{Name: "v1.0.0", SHA: "sha-100"},
		{Name: "a-v2.0.0", SHA: "sha-a200"},
	}

	dScoped, err := ParseConstraint("d->=v1.0.0")
	require.NoError(t, err)
	require.Equal(t, "d-", dScoped.Prefix)

	best, err := BestMatch(dScoped, tags)
	require.NoError(t, err)
	require.Equal(t, "d-v1.1.0", best.Name)

	unscoped, err := ParseConstraint(">=v1.0.0")
	require.NoError(t, err)
	require.Equal(t, "", unscoped.Prefix)

	best, err = BestMatch(unscoped, tags)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", best.Name)
}

func TestBestMatchExcludesPrereleaseByDefault(t *testing.T) {
	tags := []Tag{
		{Name: "v1.0.0", SHA: "s1"},
		{Name: "v1.1.0-beta.1", SHA: "s2"},
	}

	c, err := ParseConstraint(">=1.0.0")
	require.NoError(t, err)

	best, err := BestMatch(c, tags)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", best.Name)
}

func TestBestMatchAllowsPrereleaseWhenRequested(t *testing.T) {
	tags := []Tag{
		{Name: "v1.0.0", SHA: "s1"},
		{Name: "v1.1.0-beta.1", SHA: "s2"},
	}

	c, err := ParseConstraint("latest-prerelease")
	require.NoError(t, err)

	best, err := BestMatch(c, tags)
	require.NoError(t, err)
	require.Equal(t, "v1.1.0-beta.1", best.Name)
}

func TestConstraintSetDetectsConflictingExacts(t *testing.T) {
	a, err := ParseConstraint("=1.0.0")
	require.NoError(t, err)
	b, err := ParseConstraint("=2.0.0")
	require.NoError(t, err)

	set := ConstraintSet{a, b}
	err = set.Validate()
	require.Error(t, err)
}

func TestConstraintSetDiamond(t *testing.T) {
	// Scenario 1 from spec.md §8: repo has tags v1.0.0 and v1.1.0, both
	// dependents request ^1.0.
	tags := []Tag{
		{Name: "v1.0.0", SHA: "s1"},
		{Name: "v1.1.0", SHA: "s2"},
	}

	a, err := ParseConstraint("^1.0")
	require.NoError(t, err)
	b, err := ParseConstraint("^1.0")
	require.NoError(t, err)

	set := ConstraintSet{a, b}
	best, err := set.BestMatchAll(tags)
	require.NoError(t, err)
	require.Equal(t, "v1.1.0", best.Name)
}
