// Package ldcache decodes the glibc ld.so.cache binary format (new-format
// cache files only; the legacy format predates anything this tool targets).
package ldcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const (
	magic        = "glibc-ld.so.cache"
	version      = "1.1"
	headerSize   = 17 + 3 + 4 + 4 + 5*4 // magic + version + nlibs + len_strings + unused[5]
	entrySize    = 4 + 4 + 4 + 4 + 8    // flags + key + value + osversion + hwcap
)

// Cache is the decoded ld.so.cache: a multimap from library soname to every
// path recorded for it, in on-disk order. Lookups never deduplicate the
// returned slice; the resolver that consumes it is responsible for
// deciding what, if anything, to skip.
type Cache struct {
	entries map[string][]string
}

// Get returns every path recorded for name, in the order they appear in the
// cache file, or (nil, false) if name is not present.
func (c *Cache) Get(name string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.entries[name]
	return v, ok
}

// Load reads and decodes <sysroot>/etc/ld.so.cache. A missing or malformed
// cache is reported as an error; callers that treat "no cache" as a soft
// failure (see the dependency resolver) should fall back to the
// default-library-directory search tier rather than aborting.
func Load(sysroot string) (*Cache, error) {
	path := filepath.Join(sysroot, "etc", "ld.so.cache")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ldcache: %w", err)
	}
	return decode(data)
}

// decode locates the new-format cache header inside data and parses it. A
// real /etc/ld.so.cache carries a legacy-format header and entry table
// ahead of the new-format section this reader targets, so the magic is not
// generally at offset 0; it must be located by scanning, the same way
// find_subsequence does in the reference ldd implementation.
func decode(data []byte) (*Cache, error) {
	magicOff := bytes.Index(data, []byte(magic))
	if magicOff < 0 {
		return nil, fmt.Errorf("ldcache: new-format magic not found")
	}
	// Every offset from here on -- the length check below and each entry's
	// key/value, which the on-disk format stores relative to the start of
	// this header -- is relative to magicOff, so reslicing lets the rest of
	// this function ignore whatever legacy data precedes it.
	data = data[magicOff:]

	if len(data) < headerSize {
		return nil, fmt.Errorf("ldcache: file too small")
	}
	if !bytes.Equal(data[17:20], []byte(version)) {
		return nil, fmt.Errorf("ldcache: bad version")
	}

	nlibs := binary.LittleEndian.Uint32(data[20:24])
	lenStrings := binary.LittleEndian.Uint32(data[24:28])

	entriesEnd := uint64(headerSize) + uint64(nlibs)*entrySize
	expectedTotal := entriesEnd + uint64(lenStrings)
	swapped := false
	if expectedTotal != uint64(len(data)) {
		// Byte-swap nlibs/len_strings and retry once; only these two
		// header fields (and, below, each entry's key/value) are ever
		// swapped -- flags/osversion/hwcap are left alone.
		nlibs = swap32(nlibs)
		lenStrings = swap32(lenStrings)
		entriesEnd = uint64(headerSize) + uint64(nlibs)*entrySize
		expectedTotal = entriesEnd + uint64(lenStrings)
		if expectedTotal != uint64(len(data)) {
			return nil, fmt.Errorf("ldcache: inconsistent length (tried both byte orders)")
		}
		swapped = true
	}

	type rawPair struct{ key, value uint32 }
	pairs := make([]rawPair, nlibs)
	off := headerSize
	for i := 0; i < int(nlibs); i++ {
		e := data[off : off+entrySize]
		key := binary.LittleEndian.Uint32(e[4:8])
		value := binary.LittleEndian.Uint32(e[8:12])
		if swapped {
			key = swap32(key)
			value = swap32(value)
		}
		pairs[i] = rawPair{key: key, value: value}
		off += entrySize
	}

	// key/value are byte offsets from the start of this header (i.e. from
	// magicOff in the original buffer), not from the string table -- so
	// they index into data directly, now that data has been resliced to
	// start there.
	cache := &Cache{entries: make(map[string][]string)}
	for _, p := range pairs {
		key := cstr(data, p.key)
		value := cstr(data, p.value)
		if key == "" {
			continue
		}
		// No dedup before append: a key seen twice keeps both values, in
		// file order, exactly as recorded on disk.
		cache.entries[key] = append(cache.entries[key], value)
	}
	return cache, nil
}

func cstr(table []byte, offset uint32) string {
	if int(offset) >= len(table) {
		return ""
	}
	rest := table[offset:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

func swap32(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v << 24)
}
