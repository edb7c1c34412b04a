package kmoddb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileContextDepsAndSoftdeps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "modules.dep",
		"/lib/modules/6.1/kernel/fs/vfat/vfat.ko.xz: /lib/modules/6.1/kernel/fs/fat/fat.ko.xz\n"+
			"/lib/modules/6.1/kernel/fs/fat/fat.ko.xz:\n")
	writeFile(t, dir, "modules.softdep", "softdep vfat pre: nls_cp437 post: \n")
	writeFile(t, dir, "modules.alias", "alias block:*vfat* vfat\n")

	db, err := NewFileContext(dir)
	require.NoError(t, err)

	m, err := db.ModuleFromName("vfat")
	require.NoError(t, err)
	require.Equal(t, "vfat", m.Name())

	deps := m.Dependencies()
	require.Len(t, deps, 1)
	require.Equal(t, "fat", deps[0].Name())

	pre, post := m.SoftDependencies()
	require.Len(t, pre, 1)
	require.Equal(t, "nls_cp437", pre[0].Name())
	require.Empty(t, post)

	mods, err := db.ModuleFromLookup("block:usb-vfat")
	require.NoError(t, err)
	require.Len(t, mods, 1)
	require.Equal(t, "vfat", mods[0].Name())
}

func TestFileContextMissingDepsIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileContext(dir)
	require.Error(t, err)
}

func TestFileContextUnknownNameIsNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "modules.dep", "")
	db, err := NewFileContext(dir)
	require.NoError(t, err)

	_, err = db.ModuleFromName("nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}
