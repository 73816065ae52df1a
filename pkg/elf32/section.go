package elf32

import (
	"debug/elf"
	"fmt"
)

// SectionHeaderSize is the size of one ELF32 section header entry.
const SectionHeaderSize = 40

type SectionHeader struct {
	NameIndex uint32
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

func decodeSectionHeader(b []byte) SectionHeader {
	return SectionHeader{
		NameIndex: byteOrder.Uint32(b[0:4]),
		Type:      elf.SectionType(byteOrder.Uint32(b[4:8])),
		Flags:     elf.SectionFlag(byteOrder.Uint32(b[8:12])),
		Addr:      byteOrder.Uint32(b[12:16]),
		Offset:    byteOrder.Uint32(b[16:20]),
		Size:      byteOrder.Uint32(b[20:24]),
		Link:      byteOrder.Uint32(b[24:28]),
		Info:      byteOrder.Uint32(b[28:32]),
		AddrAlign: byteOrder.Uint32(b[32:36]),
		EntSize:   byteOrder.Uint32(b[36:40]),
	}
}

// hasFileData reports whether the section occupies bytes in the file.
func (h *SectionHeader) hasFileData() bool {
	return h.Type != elf.SHT_NULL && h.Type != elf.SHT_NOBITS
}

// Section is one entry of the section table. The concrete type is one of
// *RawSection, *StringTable, *SymbolTable, *RelTable, *RelaTable or
// *DynamicSection.
type Section interface {
	Header() *SectionHeader
	Index() int
	Name() string
	Data() []byte

	section()
	setName(string)
}

type sectionBase struct {
	hdr   SectionHeader
	index int
	name  string
	data  []byte
}

func (s *sectionBase) Header() *SectionHeader { return &s.hdr }
func (s *sectionBase) Index() int             { return s.index }
func (s *sectionBase) Name() string           { return s.name }
func (s *sectionBase) Data() []byte           { return s.data }
func (s *sectionBase) section()               {}
func (s *sectionBase) setName(name string)    { s.name = name }

func (s *sectionBase) String() string {
	if s.name != "" {
		return fmt.Sprintf("[%d] %s", s.index, s.name)
	}
	return fmt.Sprintf("[%d]", s.index)
}

// RawSection is any section the loader does not interpret.
type RawSection struct {
	sectionBase
}

func newSection(hdr SectionHeader, index int, data []byte) (Section, error) {
	base := sectionBase{hdr: hdr, index: index, data: data}
	switch hdr.Type {
	case elf.SHT_STRTAB:
		return &StringTable{sectionBase: base}, nil
	case elf.SHT_SYMTAB:
		return newSymbolTable(base, false)
	case elf.SHT_DYNSYM:
		return newSymbolTable(base, true)
	case elf.SHT_REL:
		return newRelTable(base)
	case elf.SHT_RELA:
		return newRelaTable(base)
	case elf.SHT_DYNAMIC:
		return newDynamicSection(base)
	default:
		return &RawSection{sectionBase: base}, nil
	}
}
