package agpm

import (
	"context"
	"sync"

	"github.com/go-git/go-git/v5"

	"github.com/aig787/agpm-sub002/internal/gitcache"
	"github.com/aig787/agpm-sub002/internal/resolve"
	"github.com/aig787/agpm-sub002/internal/version"
)

// vcsAdapter implements resolve.TagLister over a gitcache.Cache, the same
// decoupling the teacher achieves between gps's solver and its sourceBridge
// in bridge.go: internal/resolve never imports internal/gitcache directly,
// so it stays testable against an in-memory fake.
//
// Bare repositories are opened once per source name and kept here, in
// addition to gitcache.Cache's own name-keyed map of opened repositories,
// so repeated tag, ref and worktree lookups for a source do not go back
// through GetOrCloneSource and its per-source lock.
type vcsAdapter struct {
	ctx   context.Context
	cache *gitcache.Cache

	mu    sync.Mutex
	repos map[string]*git.Repository
}

func newVCSAdapter(ctx context.Context, cache *gitcache.Cache) *vcsAdapter {
	return &vcsAdapter{ctx: ctx, cache: cache, repos: make(map[string]*git.Repository)}
}

func (a *vcsAdapter) repoFor(src resolve.Source) (*git.Repository, error) {
	a.mu.Lock()
	repo, ok := a.repos[src.Name]
	a.mu.Unlock()
	if ok {
		return repo, nil
	}

	repo, err := a.cache.GetOrCloneSource(a.ctx, src.Name, src.URL)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.repos[src.Name] = repo
	a.mu.Unlock()
	return repo, nil
}

func (a *vcsAdapter) ListTags(src resolve.Source) ([]version.Tag, error) {
	repo, err := a.repoFor(src)
	if err != nil {
		return nil, err
	}
	return a.cache.ListTags(repo)
}

func (a *vcsAdapter) ResolveRef(src resolve.Source, ref string) (string, error) {
	repo, err := a.repoFor(src)
	if err != nil {
		return "", err
	}
	return a.cache.ResolveRef(repo, ref)
}

// worktree materializes src at sha, cloning/opening the bare repo first if
// necessary.
func (a *vcsAdapter) worktree(src resolve.Source, sha, label string) (string, error) {
	repo, err := a.repoFor(src)
	if err != nil {
		return "", err
	}
	return a.cache.GetOrCreateWorktreeForSHA(a.ctx, src.URL, repo, sha, label)
}
