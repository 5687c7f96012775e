// Package errs declares the sentinel error kinds named throughout spec.md's
// "Fails with" lists, so every component in internal/ raises the same
// vocabulary of errors instead of ad-hoc strings. Context is layered on with
// github.com/pkg/errors.Wrapf at each component boundary, the way every
// teacher package does it (which source, which resource, which worktree).
package errs

import "github.com/pkg/errors"

// Sentinel errors for errors.Is comparisons. Each wraps additional context
// via errors.Wrapf at the call site; callers should not rely on the
// formatted message, only on errors.Is(err, errs.XXX).
var (
	// Version model (C1)
	ErrConstraintParse       = errors.New("constraint parse error")
	ErrConflictingConstraints = errors.New("conflicting constraints")
	ErrNoSatisfyingVersion   = errors.New("no satisfying version")

	// Git cache (C2)
	ErrSourceNotFound = errors.New("source not found")

	// Version resolver (C3)
	ErrTagListFailed  = errors.New("tag list failed")
	ErrNoMatchingTag  = errors.New("no matching tag")
	ErrRevParseFailed = errors.New("rev-parse failed")

	// Transitive extractor (C4)
	ErrFrontmatterParse        = errors.New("frontmatter parse error")
	ErrInvalidDependencyRef    = errors.New("invalid dependency reference")

	// Backtracking engine (C6)
	ErrUnresolvableConflicts = errors.New("unresolvable conflicts")
	ErrBacktrackingTimeout   = errors.New("backtracking timeout")
	ErrOscillation           = errors.New("oscillation detected")
	ErrNoAlternativeVersion  = errors.New("no alternative version")

	// Dependency graph (C7)
	ErrCircularDependency = errors.New("circular dependency")

	// Lockfile builder (C8)
	ErrDuplicateLockfileEntries = errors.New("duplicate lockfile entries")
	ErrInstallPathConflict      = errors.New("install path conflict")
	ErrUnsupportedLockVersion   = errors.New("unsupported lockfile version")

	// Template renderer (C10)
	ErrTemplateSyntax                = errors.New("template syntax error")
	ErrMissingVariable               = errors.New("missing template variable")
	ErrRenderDepthExceeded           = errors.New("render depth exceeded")
	ErrCircularDependencyWhileRender = errors.New("circular dependency while rendering")
	ErrContentFilterPathEscape       = errors.New("content filter path escape")
	ErrContentFilterFileTooLarge     = errors.New("content filter file too large")

	// Installer (C11)
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Wrap attaches a formatted context message ahead of a sentinel, preserving
// errors.Is/As against both the sentinel and any further-wrapped cause.
func Wrap(sentinel error, format string, args ...any) error {
	return errors.Wrapf(sentinel, format, args...)
}
