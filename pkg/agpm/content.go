package agpm

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/aig787/agpm-sub002/internal/resource"
)

// readProjectFile reads a local dependency's file straight out of the
// project tree: relPath is already extension-stripped (spec.md §4.4's
// canonical-name rule), so the type's own extension is appended here.
func readProjectFile(projectDir, relPath string, t resource.Type) ([]byte, error) {
	full := filepath.Join(projectDir, filepath.FromSlash(relPath+t.Extension()))
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "reading local dependency %s", full)
	}
	return b, nil
}

// readSourceFile reads a Git-sourced dependency's file out of its
// materialized worktree.
func readSourceFile(worktreePath, relPath string, t resource.Type) ([]byte, error) {
	full := filepath.Join(worktreePath, filepath.FromSlash(relPath+t.Extension()))
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", full)
	}
	return b, nil
}
