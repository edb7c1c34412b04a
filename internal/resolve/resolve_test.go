package resolve

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramforge/ramforge/internal/elf"
)

// writeMinimalELF writes a tiny ELF64 LE object at path whose DYNAMIC
// section carries the given RPATH and NEEDED entries.
func writeMinimalELF(t *testing.T, path, rpath string, needed []string) {
	t.Helper()

	strs := []byte{0}
	addStr := func(s string) uint32 {
		off := uint32(len(strs))
		strs = append(strs, []byte(s)...)
		strs = append(strs, 0)
		return off
	}

	var dynBuf bytes.Buffer
	writeDyn := func(tag elf.DynamicType, val uint64) {
		binary.Write(&dynBuf, binary.LittleEndian, int64(tag))
		binary.Write(&dynBuf, binary.LittleEndian, val)
	}
	if rpath != "" {
		writeDyn(elf.DTRpath, uint64(addStr(rpath)))
	}
	for _, n := range needed {
		writeDyn(elf.DTNeeded, uint64(addStr(n)))
	}
	writeDyn(elf.DTNull, 0)

	const ehSize = 64
	dynOff := uint64(ehSize)
	strtabOff := dynOff + uint64(dynBuf.Len())

	shstrtabData := []byte{0}
	addShstr := func(s string) uint32 {
		off := uint32(len(shstrtabData))
		shstrtabData = append(shstrtabData, []byte(s)...)
		shstrtabData = append(shstrtabData, 0)
		return off
	}
	nullName := addShstr("")
	dynName := addShstr(".dynamic")
	strName := addShstr(".dynstr")
	shstrName := addShstr(".shstrtab")

	shstrtabOff := strtabOff + uint64(len(strs))
	shOff := shstrtabOff + uint64(len(shstrtabData))

	var buf bytes.Buffer
	ident := []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	buf.Write(ident)
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(62))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, shOff)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(ehSize))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(64))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(3))

	require.EqualValues(t, ehSize, buf.Len())
	buf.Write(dynBuf.Bytes())
	buf.Write(strs)
	buf.Write(shstrtabData)

	writeShdr := func(name uint32, typ elf.SectionType, offset, size uint64, link uint32) {
		binary.Write(&buf, binary.LittleEndian, name)
		binary.Write(&buf, binary.LittleEndian, uint32(typ))
		binary.Write(&buf, binary.LittleEndian, uint64(0))
		binary.Write(&buf, binary.LittleEndian, uint64(0))
		binary.Write(&buf, binary.LittleEndian, offset)
		binary.Write(&buf, binary.LittleEndian, size)
		binary.Write(&buf, binary.LittleEndian, link)
		binary.Write(&buf, binary.LittleEndian, uint32(0))
		binary.Write(&buf, binary.LittleEndian, uint64(1))
		binary.Write(&buf, binary.LittleEndian, uint64(0))
	}
	writeShdr(nullName, elf.SHTNull, 0, 0, 0)
	writeShdr(dynName, elf.SHTDynamic, dynOff, uint64(dynBuf.Len()), 2)
	writeShdr(strName, elf.SHTStrtab, strtabOff, uint64(len(strs)), 0)
	writeShdr(shstrName, elf.SHTStrtab, shstrtabOff, uint64(len(shstrtabData)), 0)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o755))
}

func TestResolveFollowsRpathAndOrigin(t *testing.T) {
	dir := t.TempDir()
	libdir := filepath.Join(dir, "lib")
	require.NoError(t, os.MkdirAll(libdir, 0o755))

	mainPath := filepath.Join(dir, "bin", "app")
	require.NoError(t, os.MkdirAll(filepath.Dir(mainPath), 0o755))
	writeMinimalELF(t, mainPath, "$ORIGIN/../lib", []string{"libfoo.so"})
	writeMinimalELF(t, filepath.Join(libdir, "libfoo.so"), "", nil)

	r := New(Options{Workers: 2})
	result, err := r.Resolve([]string{mainPath})
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.Contains(t, result, mainPath)
	require.Contains(t, result, filepath.Join(libdir, "libfoo.so"))
}

func TestResolveMissingDependencyIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "app")
	writeMinimalELF(t, mainPath, "", []string{"libmissing.so"})

	r := New(Options{Workers: 1})
	result, err := r.Resolve([]string{mainPath})
	require.NoError(t, err)
	require.Equal(t, []string{mainPath}, result)
}

func TestResolveAlreadyStagedIsSkipped(t *testing.T) {
	dir := t.TempDir()
	libdir := filepath.Join(dir, "lib")
	require.NoError(t, os.MkdirAll(libdir, 0o755))
	mainPath := filepath.Join(dir, "app")
	libPath := filepath.Join(libdir, "libfoo.so")
	writeMinimalELF(t, mainPath, libdir, []string{"libfoo.so"})
	writeMinimalELF(t, libPath, "", nil)

	destDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(destDir, libdir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destDir, libPath), []byte("staged"), 0o644))

	r := New(Options{Workers: 1, DestDir: destDir})
	result, err := r.Resolve([]string{mainPath})
	require.NoError(t, err)
	require.Equal(t, []string{mainPath}, result)
}
