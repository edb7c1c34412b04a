package closure

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/kmoddb"
)

func fakeDB() *kmoddb.Fake {
	return &kmoddb.Fake{
		Dir: "/lib/modules/6.1",
		Modules: map[string]*kmoddb.FakeModule{
			"vfat": {NameV: "vfat", PathV: "/lib/modules/6.1/kernel/fs/vfat/vfat.ko", DepsV: []string{"fat"}, SoftPreV: []string{"nls_cp437"}},
			"fat":  {NameV: "fat", PathV: "/lib/modules/6.1/kernel/fs/fat/fat.ko"},
			"nls_cp437": {NameV: "nls_cp437", PathV: "/lib/modules/6.1/kernel/fs/nls/nls_cp437.ko"},
			"usbcore": {NameV: "usbcore", PathV: "/lib/modules/6.1/kernel/drivers/usb/core/usbcore.ko"},
		},
		Aliases: map[string][]string{},
	}
}

func TestInstallFollowsHardAndSoftDeps(t *testing.T) {
	db := fakeDB()
	r := New(db)
	mods, err := r.Install([]string{"vfat"}, Filters{})
	require.NoError(t, err)

	var names []string
	for _, m := range mods {
		names = append(names, m.Name())
	}
	require.Equal(t, []string{"vfat", "fat", "nls_cp437"}, names)
}

func TestFiltersApplyOnlyAtTopLevel(t *testing.T) {
	db := fakeDB()
	r := New(db)
	filters := Filters{
		NameExclude: func(name string) bool { return name == "fat" },
	}
	mods, err := r.Install([]string{"vfat"}, filters)
	require.NoError(t, err)

	// "fat" is excluded only as a direct selector hit; as vfat's dependency
	// it must still be installed.
	var names []string
	for _, m := range mods {
		names = append(names, m.Name())
	}
	require.Contains(t, names, "fat")

	r2 := New(fakeDB())
	mods2, err := r2.Install([]string{"fat"}, filters)
	require.NoError(t, err)
	require.Empty(t, mods2)
}

func TestUnknownSelectorCollectsError(t *testing.T) {
	db := fakeDB()
	r := New(db)
	mods, err := r.Install([]string{"vfat", "doesnotexist"}, Filters{})
	require.Error(t, err)
	require.NotEmpty(t, mods)
}

func TestVisitedPreventsDuplicateInstall(t *testing.T) {
	db := fakeDB()
	r := New(db)
	_, err := r.Install([]string{"vfat", "fat"}, Filters{})
	require.NoError(t, err)
	require.Len(t, r.result, 3)
}
