package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertAbsRelSeedScenarios(t *testing.T) {
	// Scenario 1: same directory -> no ".." needed.
	require.Equal(t, "libfoo.so", ConvertAbsRel("/usr/lib64", "/usr/lib64/libfoo.so"))

	// Scenario 2: target one directory up.
	require.Equal(t, filepath.Join("..", "libfoo.so"), ConvertAbsRel("/usr/lib64/sub", "/usr/lib64/libfoo.so"))

	// Scenario 3: target in a disjoint subtree, several levels away.
	require.Equal(t,
		filepath.Join("..", "..", "lib64", "libfoo.so"),
		ConvertAbsRel("/usr/lib/sub", "/usr/lib64/libfoo.so"),
	)
}

func TestConvertAbsRelIdentity(t *testing.T) {
	require.Equal(t, ".", ConvertAbsRel("/a/b", "/a/b"))
}

func TestExpandOrigin(t *testing.T) {
	require.Equal(t, "test", ExpandOrigin("test", "TEST"))
	require.Equal(t, "TEST", ExpandOrigin("$ORIGIN", "TEST"))
	require.Equal(t, "/TEST/", ExpandOrigin("/$ORIGIN/", "TEST"))
	require.Equal(t, "/_ORIGIN/", ExpandOrigin("/_ORIGIN/", "TEST"))
	require.Equal(t, "/_ORIGIN//", ExpandOrigin("/_ORIGIN//", "TEST"))
}

func TestCanonicalizeDir(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	got, err := CanonicalizeDir(filepath.Join(link, "libfoo.so"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(real, "libfoo.so"), got)
}

func TestCanonCacheMemoizes(t *testing.T) {
	dir := t.TempDir()
	c := NewCanonCache()
	got1, err := c.CanonicalizeDir(filepath.Join(dir, "a.so"))
	require.NoError(t, err)
	got2, err := c.CanonicalizeDir(filepath.Join(dir, "a.so"))
	require.NoError(t, err)
	require.Equal(t, got1, got2)
}
