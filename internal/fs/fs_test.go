package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenameWithFallbackSameDevice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("staged content"), 0o644))

	require.NoError(t, RenameWithFallback(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "staged content", string(got))
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))
}

func TestRenameWithFallbackMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := RenameWithFallback(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.Error(t, err)
}

func TestRenameByCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	require.NoError(t, renameByCopy(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))
}

func TestRenameByCopyDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "deep.txt"), []byte("b"), 0o644))

	require.NoError(t, renameByCopy(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "nested", "deep.txt"))
	require.NoError(t, err)
	require.Equal(t, "b", string(got))
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))
}

func TestCopyDirRejectsExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.Mkdir(dst, 0o755))

	err := CopyDir(src, dst)
	require.ErrorIs(t, err, errDstExists)
}

func TestCopyDirRejectsNonDirectorySource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	err := CopyDir(src, filepath.Join(dir, "dst"))
	require.ErrorIs(t, err, errSrcNotDir)
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	isDir, err := IsDir(dir)
	require.NoError(t, err)
	require.True(t, isDir)

	isDir, err = IsDir(file)
	require.NoError(t, err)
	require.False(t, isDir)

	_, err = IsDir(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestCopyFilePreservesMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.sh")
	dst := filepath.Join(dir, "dst.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))

	require.NoError(t, copyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
