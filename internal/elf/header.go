package elf

import (
	"encoding/binary"
	"fmt"
	"io"
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Header is the fixed-size ELF file header (e_ident plus the fields whose
// width depends on the ident class).
type Header struct {
	Class      Class
	Endianness Endianness
	Version    uint32
	ABI        Abi

	Type      ElfType
	Machine   Machine
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

func (h *Header) order() binary.ByteOrder {
	if h.Endianness == EndianMSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// readHeader reads and validates the ELF header from the start of r.
func readHeader(r io.Reader) (*Header, error) {
	var ident [16]byte
	if _, err := io.ReadFull(r, ident[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, ErrInvalidMagic
		}
		return nil, err
	}
	if ident[0] != elfMagic[0] || ident[1] != elfMagic[1] || ident[2] != elfMagic[2] || ident[3] != elfMagic[3] {
		return nil, ErrInvalidMagic
	}

	h := &Header{}
	switch ident[4] {
	case 1:
		h.Class = Class32
	case 2:
		h.Class = Class64
	default:
		return nil, &InvalidIdentClassError{Got: ident[4]}
	}

	switch ident[5] {
	case 1:
		h.Endianness = EndianLSB
	case 2:
		h.Endianness = EndianMSB
	default:
		return nil, &InvalidEndiannessError{Got: ident[5]}
	}

	if ident[6] != 1 {
		return nil, &InvalidIdentVersionError{Got: ident[6]}
	}
	h.Version = uint32(ident[6])

	if abi := Abi(ident[7]); abi.known() {
		h.ABI = abi
	} else {
		return nil, &InvalidAbiError{Got: ident[7]}
	}

	order := h.order()

	var e16 [2]byte
	readU16 := func() (uint16, error) {
		if _, err := io.ReadFull(r, e16[:]); err != nil {
			return 0, err
		}
		return order.Uint16(e16[:]), nil
	}
	var e32 [4]byte
	readU32 := func() (uint32, error) {
		if _, err := io.ReadFull(r, e32[:]); err != nil {
			return 0, err
		}
		return order.Uint32(e32[:]), nil
	}
	var e64 [8]byte
	readU64 := func() (uint64, error) {
		if _, err := io.ReadFull(r, e64[:]); err != nil {
			return 0, err
		}
		return order.Uint64(e64[:]), nil
	}
	readUClass := func() (uint64, error) {
		if h.Class == Class32 {
			v, err := readU32()
			return uint64(v), err
		}
		return readU64()
	}

	var err error
	var rawType, rawMachine uint16
	if rawType, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_type: %w", err)
	}
	if et := ElfType(rawType); et.known() {
		h.Type = et
	} else {
		return nil, &InvalidElfTypeError{Got: rawType}
	}
	if rawMachine, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_machine: %w", err)
	}
	if m := Machine(rawMachine); m.known() {
		h.Machine = m
	} else {
		return nil, &InvalidMachineTypeError{Got: rawMachine}
	}
	var v uint32
	if v, err = readU32(); err != nil {
		return nil, fmt.Errorf("elf: reading e_version: %w", err)
	}
	if v != 1 {
		return nil, &InvalidVersionError{Got: v}
	}
	h.Version = v
	if h.Entry, err = readUClass(); err != nil {
		return nil, fmt.Errorf("elf: reading e_entry: %w", err)
	}
	if h.PhOff, err = readUClass(); err != nil {
		return nil, fmt.Errorf("elf: reading e_phoff: %w", err)
	}
	if h.ShOff, err = readUClass(); err != nil {
		return nil, fmt.Errorf("elf: reading e_shoff: %w", err)
	}
	if h.Flags, err = readU32(); err != nil {
		return nil, fmt.Errorf("elf: reading e_flags: %w", err)
	}
	if h.EhSize, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_ehsize: %w", err)
	}
	if h.PhEntSize, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_phentsize: %w", err)
	}
	if h.PhNum, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_phnum: %w", err)
	}
	if h.ShEntSize, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_shentsize: %w", err)
	}
	if h.ShNum, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_shnum: %w", err)
	}
	if h.ShStrNdx, err = readU16(); err != nil {
		return nil, fmt.Errorf("elf: reading e_shstrndx: %w", err)
	}

	return h, nil
}
