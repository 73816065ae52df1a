package elf32

import "bytes"

// StringTable is a section of NUL-terminated strings addressed by byte offset.
type StringTable struct {
	sectionBase
}

// NewStringTable wraps raw string table bytes that did not come from a
// section header, such as the dynamic string table located through DT_STRTAB.
func NewStringTable(data []byte) *StringTable {
	return &StringTable{sectionBase{data: data}}
}

func (t *StringTable) Len() int {
	return len(t.data)
}

// Get returns the string starting at offset. It stops at the first NUL or at
// the end of the table. An offset outside the table yields "".
func (t *StringTable) Get(offset uint32) string {
	if uint64(offset) >= uint64(len(t.data)) {
		return ""
	}
	s := t.data[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// IsMatch reports whether the string at offset is exactly candidate, without
// allocating. An empty candidate only matches at or past the end of the table.
func (t *StringTable) IsMatch(offset uint32, candidate string) bool {
	size := uint64(len(t.data))
	start := uint64(offset)
	if len(candidate) == 0 {
		return start >= size
	}
	end := start + uint64(len(candidate))
	if end > size {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if t.data[start+uint64(i)] != candidate[i] {
			return false
		}
	}
	return end == size || t.data[end] == 0
}
