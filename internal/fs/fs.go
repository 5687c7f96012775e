// Package fs provides the one filesystem primitive the installer needs that
// os doesn't give it for free: renaming a staged file or directory into its
// final install path even when the rename crosses a filesystem boundary (a
// temp directory and a vendored tool directory are not guaranteed to share
// one, especially under containerized CI mounts).
package fs

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// RenameWithFallback moves src to dst. As with os.Rename, an existing
// regular file at dst is replaced (the installer relies on this). When
// the platform rename fails because src and dst live on different devices
// (syscall.EXDEV), it falls back to a recursive copy-then-delete so installs
// still succeed across a bind-mounted cache or a tmpfs staging area.
func RenameWithFallback(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	linkErr, ok := err.(*os.LinkError)
	if !ok || linkErr.Err != syscall.EXDEV {
		return errors.Wrapf(err, "cannot rename %s to %s", src, dst)
	}

	return renameByCopy(src, dst)
}

func renameByCopy(src, dst string) error {
	var copyErr error
	if dir, _ := IsDir(src); dir {
		copyErr = CopyDir(src, dst)
	} else {
		copyErr = copyFile(src, dst)
	}
	if copyErr != nil {
		return errors.Wrapf(copyErr, "cross-device rename fallback failed: %s to %s", src, dst)
	}
	return errors.Wrapf(os.RemoveAll(src), "cannot clean up %s after copy", src)
}

// IsDir reports whether name exists and is a directory.
func IsDir(name string) (bool, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

var (
	errSrcNotDir = errors.New("fs: source is not a directory")
	errDstExists = errors.New("fs: destination already exists")
)

// CopyDir recursively copies the tree rooted at src into dst. src must
// exist and be a directory; dst must not already exist.
func CopyDir(src, dst string) error {
	src = filepath.Clean(src)
	dst = filepath.Clean(dst)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}
	if !srcInfo.IsDir() {
		return errSrcNotDir
	}
	if _, err := os.Stat(dst); err == nil {
		return errDstExists
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot stat %s", dst)
	}

	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return errors.Wrapf(err, "cannot create %s", dst)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s", src)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := CopyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

// copyFile copies the content and mode bits of src to dst, fsyncing the
// result so a crash right after RenameWithFallback's cleanup can't leave an
// empty file behind.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, "cannot stat %s", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", dst)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "cannot copy %s to %s", src, dst)
	}
	return errors.Wrap(out.Sync(), "cannot sync copied file")
}
