package elf

import "bytes"

// StrtabContent is the content of an SHT_STRTAB section: a flat buffer of
// NUL-terminated strings addressed by byte offset.
type StrtabContent struct {
	data []byte
}

func (*StrtabContent) isSectionContent() {}

// Get returns the NUL-terminated string starting at byte offset i. An
// out-of-range offset returns a placeholder rather than panicking, mirroring
// upstream's tolerance of corrupt/truncated string tables in sections that
// aren't otherwise load-bearing.
func (s *StrtabContent) Get(i uint32) string {
	if s == nil || int(i) >= len(s.data) {
		return "<corrupt>"
	}
	rest := s.data[i:]
	if end := bytes.IndexByte(rest, 0); end >= 0 {
		return string(rest[:end])
	}
	return string(rest)
}

func parseStrtab(data []byte) *StrtabContent {
	return &StrtabContent{data: data}
}
