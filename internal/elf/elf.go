package elf

import (
	"fmt"
	"io"
)

// File is a parsed ELF image: header and section headers are read eagerly,
// section content is read on first Load call and cached from then on.
type File struct {
	Header   Header
	Sections []Section
	Segments []SegmentHeader

	r io.ReaderAt
}

// Open parses the ELF header and section header table from r. Section
// content is not read; call Load for the sections you need.
func Open(r io.ReaderAt) (*File, error) {
	hdrR := io.NewSectionReader(r, 0, 1<<62)
	h, err := readHeader(hdrR)
	if err != nil {
		return nil, err
	}

	f := &File{Header: *h, r: r}

	if h.PhNum > 0 {
		phR := io.NewSectionReader(r, int64(h.PhOff), int64(h.PhNum)*int64(h.PhEntSize))
		f.Segments = make([]SegmentHeader, h.PhNum)
		for i := range f.Segments {
			ph, err := readSegmentHeader(phR, h)
			if err != nil {
				return nil, fmt.Errorf("elf: reading segment header %d: %w", i, err)
			}
			f.Segments[i] = ph
		}
	}

	if h.ShNum > 0 {
		shR := io.NewSectionReader(r, int64(h.ShOff), int64(h.ShNum)*int64(h.ShEntSize))
		f.Sections = make([]Section, h.ShNum)
		for i := range f.Sections {
			sh, err := readSectionHeader(shR, h)
			if err != nil {
				return nil, fmt.Errorf("elf: reading section header %d: %w", i, err)
			}
			f.Sections[i] = Section{Header: sh, Content: UnloadedContent}
		}
	}

	if int(h.ShStrNdx) < len(f.Sections) {
		shstrtab, err := f.loadStrtab(int(h.ShStrNdx))
		if err != nil {
			return nil, fmt.Errorf("elf: loading shstrtab: %w", err)
		}
		for i := range f.Sections {
			f.Sections[i].Header.Name = shstrtab.Get(f.Sections[i].Header.NameIdx)
		}
	} else if h.ShNum > 0 {
		return nil, ErrMissingShstrtab
	}

	return f, nil
}

func (f *File) loadStrtab(idx int) (*StrtabContent, error) {
	sec := &f.Sections[idx]
	if st, ok := sec.Content.(*StrtabContent); ok {
		return st, nil
	}
	if sec.Header.Type != SHTStrtab {
		return nil, &LinkedSectionNotStrtabError{During: "strtab load", Link: uint32(idx)}
	}
	data := make([]byte, sec.Header.Size)
	if sec.Header.Size > 0 {
		if _, err := f.r.ReadAt(data, int64(sec.Header.Offset)); err != nil {
			return nil, err
		}
	}
	st := parseStrtab(data)
	sec.Content = st
	return st, nil
}

// Load reads the content of section idx, caching it on the Section. Calling
// Load twice on the same section is a no-op: content transitions Unloaded ->
// concrete exactly once and never reverts.
func (f *File) Load(idx int) error {
	sec := &f.Sections[idx]
	switch sec.Content.(type) {
	case *DynamicContent, *StrtabContent:
		return nil
	case noneContent:
		return nil
	}

	switch sec.Header.Type {
	case SHTNobits:
		sec.Content = NoneContent
		return nil
	case SHTStrtab:
		_, err := f.loadStrtab(idx)
		return err
	case SHTDynamic:
		strtab, err := f.loadStrtab(int(sec.Header.Link))
		if err != nil {
			return fmt.Errorf("elf: loading dynamic section %d: %w", idx, err)
		}
		sr := io.NewSectionReader(f.r, int64(sec.Header.Offset), int64(sec.Header.Size))
		dyn, err := parseDynamic(sr, &f.Header, strtab)
		if err != nil {
			return fmt.Errorf("elf: loading dynamic section %d: %w", idx, err)
		}
		sec.Content = dyn
		return nil
	default:
		// Section types we never need to interpret (SYMTAB, PROGBITS, ...)
		// stay Unloaded; that is a valid terminal state, not an error.
		return nil
	}
}

// DynamicSections returns the indices of every SHT_DYNAMIC section.
func (f *File) DynamicSections() []int {
	var out []int
	for i, sec := range f.Sections {
		if sec.Header.Type == SHTDynamic {
			out = append(out, i)
		}
	}
	return out
}

// Dynamic returns the loaded dynamic-entries of section idx, or nil if it
// has not been loaded (or is not a DYNAMIC section).
func (f *File) Dynamic(idx int) *DynamicContent {
	dyn, _ := f.Sections[idx].Content.(*DynamicContent)
	return dyn
}
