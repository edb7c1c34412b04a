package elf

import (
	"fmt"
	"io"
)

// SectionHeader is a parsed Elf32_Shdr/Elf64_Shdr entry.
type SectionHeader struct {
	NameIdx   uint32
	Name      string
	Type      SectionType
	Flags     SectionFlags
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// SectionContent is the lazily-loaded payload of a section. It is one of
// NoneContent, UnloadedContent, *DynamicContent or *StrtabContent.
type SectionContent interface {
	isSectionContent()
}

type noneContent struct{}

func (noneContent) isSectionContent() {}

// NoneContent is the content of an SHT_NOBITS section (e.g. .bss): it
// occupies no file bytes, so there is nothing to load.
var NoneContent SectionContent = noneContent{}

type unloadedContent struct{}

func (unloadedContent) isSectionContent() {}

// UnloadedContent is the initial state of every section before Load has
// been called (or the terminal state for section types this reader does
// not need to interpret, such as SYMTAB).
var UnloadedContent SectionContent = unloadedContent{}

// Section is one entry in the section header table, plus its lazily loaded
// content.
type Section struct {
	Header  SectionHeader
	Content SectionContent

	fileOff int64 // not set by Open; Load reads from Header.Offset
}

// readSectionHeader reads a single section header using h's endianness and
// class.
func readSectionHeader(r io.Reader, h *Header) (SectionHeader, error) {
	order := h.order()
	var sh SectionHeader

	u32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return order.Uint32(b[:]), nil
	}
	uclass := func() (uint64, error) {
		if h.Class == Class32 {
			v, err := u32()
			return uint64(v), err
		}
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return order.Uint64(b[:]), nil
	}

	var err error
	if sh.NameIdx, err = u32(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_name: %w", err)
	}
	var typ uint32
	if typ, err = u32(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_type: %w", err)
	}
	if st := SectionType(typ); st.known() {
		sh.Type = st
	} else {
		return sh, &InvalidSectionTypeError{Got: typ}
	}
	var flags uint64
	if flags, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_flags: %w", err)
	}
	if f := SectionFlags(flags); f.knownBits() {
		sh.Flags = f
	} else {
		return sh, &InvalidSectionFlagsError{Got: flags}
	}
	if sh.Addr, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_addr: %w", err)
	}
	if sh.Offset, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_offset: %w", err)
	}
	if sh.Size, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_size: %w", err)
	}
	if sh.Link, err = u32(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_link: %w", err)
	}
	if sh.Info, err = u32(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_info: %w", err)
	}
	if sh.AddrAlign, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_addralign: %w", err)
	}
	if sh.EntSize, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading sh_entsize: %w", err)
	}
	return sh, nil
}
