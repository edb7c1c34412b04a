//go:build linux

package materialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMaterializer(t *testing.T, root string) *Materializer {
	t.Helper()
	m, err := New(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCloneRegularFile(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()

	srcFile := filepath.Join(src, "usr", "lib64", "libfoo.so.1")
	require.NoError(t, os.MkdirAll(filepath.Dir(srcFile), 0o755))
	require.NoError(t, os.WriteFile(srcFile, []byte("hello"), 0o644))

	m := newMaterializer(t, root)
	require.NoError(t, m.Clone(srcFile))

	got, err := os.ReadFile(filepath.Join(root, srcFile))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestCloneIsIdempotent(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()

	srcFile := filepath.Join(src, "bin", "true")
	require.NoError(t, os.MkdirAll(filepath.Dir(srcFile), 0o755))
	require.NoError(t, os.WriteFile(srcFile, []byte("x"), 0o755))

	m := newMaterializer(t, root)
	require.NoError(t, m.Clone(srcFile))
	require.NoError(t, m.Clone(srcFile))
}

func TestCloneSymlinkRewrittenRelative(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()

	realFile := filepath.Join(src, "lib64", "libfoo.so.1")
	require.NoError(t, os.MkdirAll(filepath.Dir(realFile), 0o755))
	require.NoError(t, os.WriteFile(realFile, []byte("body"), 0o644))

	linkPath := filepath.Join(src, "usr", "lib64", "libfoo.so")
	require.NoError(t, os.MkdirAll(filepath.Dir(linkPath), 0o755))
	require.NoError(t, os.Symlink(realFile, linkPath))

	m := newMaterializer(t, root)
	require.NoError(t, m.Clone(linkPath))

	gotLinkDest, err := os.Readlink(filepath.Join(root, linkPath))
	require.NoError(t, err)
	require.False(t, filepath.IsAbs(gotLinkDest))

	resolved := filepath.Join(filepath.Dir(filepath.Join(root, linkPath)), gotLinkDest)
	got, err := os.ReadFile(resolved)
	require.NoError(t, err)
	require.Equal(t, "body", string(got))
}

func TestCloneDirectory(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()

	dir := filepath.Join(src, "etc", "modprobe.d")
	require.NoError(t, os.MkdirAll(dir, 0o750))

	m := newMaterializer(t, root)
	require.NoError(t, m.Clone(dir))

	info, err := os.Stat(filepath.Join(root, dir))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
