// Package config carries the explicit, process-wide configuration threaded
// through every core component's constructor (spec.md §9's "Global state ->
// context passing": no package-level singletons anywhere in the core).
package config

import (
	"runtime"
	"time"
)

// FetchPolicy controls how aggressively the Git cache refreshes a source.
type FetchPolicy int

const (
	// FetchIfMissing only clones/fetches a source the first time it is
	// needed in a run; subsequent lookups in the same run reuse the bare
	// clone as-is.
	FetchIfMissing FetchPolicy = iota
	// FetchAlways forces one fetch per source per run even if the bare
	// clone already exists on disk.
	FetchAlways
	// FetchOffline never touches the network; missing sources or SHAs are
	// hard errors.
	FetchOffline
)

// Config is the explicit struct passed to every component constructor in
// internal/. Nothing here is read from a global; callers (cmd/agpm, tests)
// build it once per invocation.
type Config struct {
	// ProjectDir is the root of the project being installed into.
	ProjectDir string
	// CacheDir is the root of the Git cache (bare clones + worktrees).
	CacheDir string
	// FetchPolicy governs Git cache refresh behavior for this run.
	FetchPolicy FetchPolicy
	// Concurrency is the configured parallelism; `agpm config` prints it,
	// but no component reads it. Worktree creation, fetches, extraction
	// and rendering run sequentially.
	Concurrency int
	// BacktrackTimeout is the wall-clock bound on the backtracking engine
	// (spec.md §4.6, §5).
	BacktrackTimeout time.Duration
	// MaxBacktrackIterations bounds the backtracking outer loop.
	MaxBacktrackIterations int
	// MaxRenderDepth is the configured re-render depth (spec.md §4.10).
	// The renderer does not read it; it applies its own
	// template.MaxRenderDepth constant (10).
	MaxRenderDepth int
	// ContentFilterMaxBytes is the configured size limit for files the
	// `content` template filter reads (spec.md §4.10's
	// ContentFilterFileTooLarge). The renderer does not read it; it applies
	// its own template.MaxContentFilterFileBytes constant (10 MiB).
	ContentFilterMaxBytes int64
	// DefaultTool is the tool key used when a dependency spec does not name
	// one and no parent context supplies one (spec.md §6: default
	// "claude-code").
	DefaultTool string
}

// Default returns a Config with the spec's documented defaults.
func Default(projectDir, cacheDir string) Config {
	return Config{
		ProjectDir:              projectDir,
		CacheDir:                cacheDir,
		FetchPolicy:             FetchIfMissing,
		Concurrency:             max(2, runtime.NumCPU()),
		BacktrackTimeout:        5 * time.Minute,
		MaxBacktrackIterations:  50,
		MaxRenderDepth:          10,
		ContentFilterMaxBytes:   5 << 20,
		DefaultTool:             "claude-code",
	}
}
