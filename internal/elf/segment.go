package elf

import (
	"fmt"
	"io"
)

// SegmentHeader is a parsed Elf32_Phdr/Elf64_Phdr entry.
type SegmentHeader struct {
	Type   SegmentType
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// readSegmentHeader reads a single program header using h's endianness and
// class. The on-disk field order differs between Elf32_Phdr and
// Elf64_Phdr: the 32-bit layout reads flags last, the 64-bit layout reads
// it immediately after p_type.
func readSegmentHeader(r io.Reader, h *Header) (SegmentHeader, error) {
	order := h.order()
	var sh SegmentHeader

	u32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return order.Uint32(b[:]), nil
	}
	u64 := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return order.Uint64(b[:]), nil
	}
	uclass := func() (uint64, error) {
		if h.Class == Class32 {
			v, err := u32()
			return uint64(v), err
		}
		return u64()
	}

	rawType, err := u32()
	if err != nil {
		return sh, fmt.Errorf("elf: reading p_type: %w", err)
	}
	if pt := SegmentType(rawType); pt.known() {
		sh.Type = pt
	} else {
		return sh, &InvalidSegmentTypeError{Got: rawType}
	}

	if h.Class == Class64 {
		if sh.Flags, err = u32(); err != nil {
			return sh, fmt.Errorf("elf: reading p_flags: %w", err)
		}
	}

	if sh.Offset, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_offset: %w", err)
	}
	if sh.VAddr, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_vaddr: %w", err)
	}
	if sh.PAddr, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_paddr: %w", err)
	}
	if sh.FileSz, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_filesz: %w", err)
	}
	if sh.MemSz, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_memsz: %w", err)
	}

	if h.Class == Class32 {
		if sh.Flags, err = u32(); err != nil {
			return sh, fmt.Errorf("elf: reading p_flags: %w", err)
		}
	}

	if sh.Align, err = uclass(); err != nil {
		return sh, fmt.Errorf("elf: reading p_align: %w", err)
	}

	return sh, nil
}
