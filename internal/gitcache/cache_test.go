package gitcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepoHashStable(t *testing.T) {
	a := repoHash("https://example.com/repo.git")
	b := repoHash("https://example.com/repo.git")
	require.Equal(t, a, b)

	c := repoHash("https://example.com/other.git")
	require.NotEqual(t, a, c)
}

func TestShortSHA(t *testing.T) {
	require.Equal(t, "abcdef012345", shortSHA("abcdef012345678900000000000000000000000"))
	require.Equal(t, "abc", shortSHA("abc"))
}

func TestGetWorktreePathIsPure(t *testing.T) {
	c := &Cache{root: "/tmp/agpm-cache"}
	p1 := c.GetWorktreePath("https://example.com/repo.git", "deadbeefcafedeadbeefcafedeadbeefcafedead")
	p2 := c.GetWorktreePath("https://example.com/repo.git", "deadbeefcafedeadbeefcafedeadbeefcafedead")
	require.Equal(t, p1, p2)
	require.Contains(t, p1, "worktrees")
	require.Contains(t, p1, "deadbeefcafed")
}
