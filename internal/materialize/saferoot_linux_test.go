//go:build linux

package materialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openRoot(t *testing.T, dir string) *os.File {
	t.Helper()
	f, err := os.OpenFile(dir, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestPartialLookupExistingPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	handle, remaining, err := partialLookupInRoot(openRoot(t, root), "a/b")
	require.NoError(t, err)
	defer handle.Close()
	require.Empty(t, remaining)
}

func TestPartialLookupMissingTail(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))

	handle, remaining, err := partialLookupInRoot(openRoot(t, root), "a/b/c")
	require.NoError(t, err)
	defer handle.Close()
	require.Equal(t, "b/c", remaining)
}

func TestPartialLookupFollowsAbsoluteSymlinkToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink("/real", filepath.Join(root, "link")))

	handle, remaining, err := partialLookupInRoot(openRoot(t, root), "link")
	require.NoError(t, err)
	defer handle.Close()
	require.Empty(t, remaining)
}

func TestMkdirAllHandleCreatesMissingComponents(t *testing.T) {
	root := t.TempDir()

	handle, err := mkdirAllHandle(openRoot(t, root), "a/b/c", 0o755)
	require.NoError(t, err)
	defer handle.Close()

	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestMkdirAllHandleRejectsDotDot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))

	_, err := mkdirAllHandle(openRoot(t, root), "a/../b/c", 0o755)
	require.Error(t, err)
}
