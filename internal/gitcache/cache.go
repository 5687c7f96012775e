// Package gitcache implements spec.md's C2: a process- and thread-safe
// cache of bare repositories plus per-commit worktrees, keyed by
// (repo, commit SHA). Grounded in the teacher's vcs_repo.go/vcs_source.go
// (bare-clone-once, fetch-once-per-run, serialize concurrent callers per
// source) but rebuilt on github.com/go-git/go-git/v5 instead of shelling
// out to the `git` binary through Masterminds/vcs, per SPEC_FULL.md §6: one
// bare repository's object storer can back many independent worktree
// checkouts via git.Open(storer, worktreeFS), which is exactly this
// component's shape.
package gitcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/aig787/agpm-sub002/internal/config"
	"github.com/aig787/agpm-sub002/internal/errs"
	"github.com/aig787/agpm-sub002/internal/version"
)

// Cache owns the on-disk layout described in spec.md §6:
// sources/<source-name>/ (bare clones) and
// worktrees/<repo-hash>/<sha-short>/ (per-commit checkouts).
type Cache struct {
	root   string
	policy config.FetchPolicy
	log    zerolog.Logger

	sourceLocks   *keyedMutex
	worktreeLocks *keyedMutex

	mu      sync.Mutex
	opened  map[string]*git.Repository // source name -> opened bare repo
	fetched map[string]bool            // source name -> already fetched this run
}

// New constructs a Cache rooted at cfg.CacheDir.
func New(cfg config.Config, log zerolog.Logger) *Cache {
	return &Cache{
		root:          cfg.CacheDir,
		policy:        cfg.FetchPolicy,
		log:           log,
		sourceLocks:   newKeyedMutex(),
		worktreeLocks: newKeyedMutex(),
		opened:        make(map[string]*git.Repository),
		fetched:       make(map[string]bool),
	}
}

// repoHash is a stable digest of a source URL, used as the worktree parent
// directory name (spec.md §6). Bare clones are keyed by source name alone
// (see barePath).
func repoHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

func (c *Cache) barePath(name string) string {
	return filepath.Join(c.root, "sources", name)
}

// GetWorktreePath is a pure function of its inputs (spec.md §4.2's
// `get_worktree_path`): it never touches the filesystem.
func (c *Cache) GetWorktreePath(url, sha string) string {
	return filepath.Join(c.root, "worktrees", repoHash(url), shortSHA(sha))
}

// GetOrCloneSource bare-clones name/url if absent and returns the opened
// repository. Under FetchAlways an already-present clone is fetched once per
// Cache instance (i.e. once per installation run); under FetchOffline an
// absent clone is an error rather than a network clone. Concurrent callers
// for the same source name are serialized via a per-source lock.
func (c *Cache) GetOrCloneSource(ctx context.Context, name, url string) (*git.Repository, error) {
	unlock := c.sourceLocks.lock(name)
	defer unlock()

	c.mu.Lock()
	repo, ok := c.opened[name]
	alreadyFetched := c.fetched[name]
	c.mu.Unlock()

	if ok {
		if c.policy == config.FetchAlways && !alreadyFetched {
			if err := c.fetch(ctx, name, repo); err != nil {
				return nil, err
			}
		}
		return repo, nil
	}

	path := c.barePath(name)
	var err error

	if _, statErr := os.Stat(filepath.Join(path, "HEAD")); statErr == nil {
		c.log.Debug().Str("source", name).Str("path", path).Msg("opening existing bare clone")
		repo, err = git.PlainOpen(path)
		if err == nil && c.policy == config.FetchAlways {
			if fErr := c.fetch(ctx, name, repo); fErr != nil {
				return nil, fErr
			}
		}
	} else {
		if c.policy == config.FetchOffline {
			return nil, errs.Wrap(errs.ErrSourceNotFound, "source %q is not cached and the fetch policy is offline", name)
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, errs.Wrap(errs.ErrSourceNotFound, "creating cache dir for source %q: %v", name, mkErr)
		}
		c.log.Info().Str("source", name).Str("url", url).Msg("cloning bare source")
		repo, err = git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
			URL:        url,
			Tags:       git.AllTags,
			NoCheckout: true,
		})
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrSourceNotFound, "cloning source %q (%s)", name, url)
	}

	c.mu.Lock()
	c.opened[name] = repo
	c.fetched[name] = true
	c.mu.Unlock()

	return repo, nil
}

func (c *Cache) fetch(ctx context.Context, name string, repo *git.Repository) error {
	if c.policy == config.FetchOffline {
		return nil
	}
	c.log.Debug().Str("source", name).Msg("fetching")
	err := repo.FetchContext(ctx, &git.FetchOptions{Tags: git.AllTags, Force: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.ErrSourceNotFound, "fetching source %q", name)
	}
	c.mu.Lock()
	c.fetched[name] = true
	c.mu.Unlock()
	return nil
}

// ListTags lists the tags of a bare source, peeling annotated tag objects
// down to the commit they point at.
func (c *Cache) ListTags(repo *git.Repository) ([]version.Tag, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, errs.Wrap(errs.ErrTagListFailed, "listing tags")
	}
	defer iter.Close()

	var tags []version.Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		hash := ref.Hash()

		if tagObj, tErr := repo.TagObject(hash); tErr == nil {
			if commit, cErr := tagObj.Commit(); cErr == nil {
				hash = commit.Hash
			}
		}
		tags = append(tags, version.Tag{Name: name, SHA: hash.String()})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrTagListFailed, "listing tags")
	}
	return tags, nil
}

// ResolveRef resolves a non-semver constraint (branch, tag, or partial/full
// SHA) to a full commit SHA, equivalent to `git rev-parse`.
func (c *Cache) ResolveRef(repo *git.Repository, ref string) (string, error) {
	if version.IsSHA(ref) {
		h := plumbing.NewHash(ref)
		if _, err := repo.CommitObject(h); err != nil {
			return "", errs.Wrap(errs.ErrRevParseFailed, "SHA %q not found", ref)
		}
		return h.String(), nil
	}

	revisions := []plumbing.Revision{
		plumbing.Revision(ref),
		plumbing.Revision("refs/tags/" + ref),
		plumbing.Revision("refs/heads/" + ref),
		plumbing.Revision("refs/remotes/origin/" + ref),
	}

	var lastErr error
	for _, rev := range revisions {
		h, err := repo.ResolveRevision(rev)
		if err == nil {
			return h.String(), nil
		}
		lastErr = err
	}
	return "", errs.Wrap(errs.ErrRevParseFailed, "ref %q: %v", ref, lastErr)
}

// GetOrCreateWorktreeForSHA checks out sha into a dedicated worktree
// directory if it does not already exist, and returns the stable path.
// Concurrent callers for the same (repo, sha) pair are serialized.
func (c *Cache) GetOrCreateWorktreeForSHA(ctx context.Context, url string, repo *git.Repository, sha, label string) (string, error) {
	path := c.GetWorktreePath(url, sha)

	unlock := c.worktreeLocks.lock(path)
	defer unlock()

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		c.log.Debug().Str("worktree", path).Str("label", label).Msg("reusing existing worktree")
		return path, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", errs.Wrap(errs.ErrSourceNotFound, "creating worktree dir %q", path)
	}

	wtRepo, err := git.Open(repo.Storer, osfs.New(path))
	if err != nil {
		return "", errs.Wrap(errs.ErrSourceNotFound, "opening worktree view for %q", path)
	}

	wt, err := wtRepo.Worktree()
	if err != nil {
		return "", errs.Wrap(errs.ErrSourceNotFound, "obtaining worktree handle for %q", path)
	}

	c.log.Info().Str("worktree", path).Str("sha", sha).Str("label", label).Msg("creating worktree")
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(sha), Force: true}); err != nil {
		_ = os.RemoveAll(path)
		return "", errs.Wrap(errs.ErrSourceNotFound, "checking out %q into %q", sha, path)
	}

	return path, nil
}

// CommitTime looks up the commit object for sha; its Committer/Author
// fields carry the commit's timestamps.
func CommitTime(repo *git.Repository, sha string) (*object.Commit, error) {
	return repo.CommitObject(plumbing.NewHash(sha))
}
