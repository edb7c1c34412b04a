package elf

import "io"

// DynamicEntry is one (d_tag, d_val/d_ptr) pair from a DYNAMIC section, with
// the tags this reader cares about resolved against the linked string table.
type DynamicEntry struct {
	Type    DynamicType
	Address uint64 // valid when Type has no string/flag interpretation
	String  string // valid for NEEDED, RPATH, RUNPATH
	Flags1  uint64 // valid for FLAGS_1
}

// DynamicContent is the content of an SHT_DYNAMIC section.
type DynamicContent struct {
	Entries []DynamicEntry
}

func (*DynamicContent) isSectionContent() {}

// parseDynamic reads (tag, value) pairs until a DT_NULL terminator (which is
// included in Entries, matching upstream's "push then break on NULL").
// strtab may be nil; entries needing it then resolve to "<corrupt>".
func parseDynamic(r io.Reader, h *Header, strtab *StrtabContent) (*DynamicContent, error) {
	order := h.order()
	readUClass := func() (uint64, error) {
		if h.Class == Class32 {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return 0, err
			}
			return uint64(order.Uint32(b[:])), nil
		}
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return order.Uint64(b[:]), nil
	}

	var entries []DynamicEntry
	for {
		tagRaw, err := readUClass()
		if err != nil {
			// Truncated dynamic section: stop, matching upstream's
			// "reads until a read fails or NULL is pushed and breaks".
			break
		}
		val, err := readUClass()
		if err != nil {
			break
		}

		tag := DynamicType(int64(tagRaw))
		ent := DynamicEntry{Type: tag}

		switch tag {
		case DTNull:
			entries = append(entries, ent)
			return &DynamicContent{Entries: entries}, nil
		case DTNeeded, DTRpath, DTRunpath:
			ent.String = strtab.Get(uint32(val))
		case DTFlags1:
			ent.Flags1 = val
		default:
			if !tag.known() {
				return nil, &InvalidDynamicTypeError{Got: int64(tagRaw)}
			}
			ent.Address = val
		}
		entries = append(entries, ent)
	}
	return &DynamicContent{Entries: entries}, nil
}
