package elf32

import (
	"debug/elf"

	"github.com/pkg/errors"
)

const (
	RelSize  = 8
	RelaSize = 12
	// LegacyRelaSize is the entry size of relocation-with-addend tables
	// written with a 16 bit addend. Tables declaring this sh_entsize are
	// decoded with the narrow layout.
	LegacyRelaSize = 10
)

// Relocation is a decoded REL or RELA entry.
type Relocation struct {
	Offset    uint32
	Info      uint32
	Addend    int32
	HasAddend bool
}

func (r Relocation) SymbolIndex() uint32 {
	return elf.R_SYM32(r.Info)
}

func (r Relocation) Type() elf.R_386 {
	return elf.R_386(elf.R_TYPE32(r.Info))
}

// RelTable is a SHT_REL section; addends are implicit in the relocated word.
type RelTable struct {
	sectionBase
	entries []Relocation
}

func newRelTable(base sectionBase) (*RelTable, error) {
	if len(base.data)%RelSize != 0 {
		return nil, errors.Wrapf(ErrFormat, "relocation table %s: size %d is not a multiple of %d", base.String(), len(base.data), RelSize)
	}
	entries := make([]Relocation, 0, len(base.data)/RelSize)
	for off := 0; off < len(base.data); off += RelSize {
		entries = append(entries, Relocation{
			Offset: byteOrder.Uint32(base.data[off : off+4]),
			Info:   byteOrder.Uint32(base.data[off+4 : off+8]),
		})
	}
	return &RelTable{sectionBase: base, entries: entries}, nil
}

func (t *RelTable) Relocations() []Relocation {
	return t.entries
}

// RelaTable is a SHT_RELA section.
type RelaTable struct {
	sectionBase
	entries []Relocation
}

func newRelaTable(base sectionBase) (*RelaTable, error) {
	size := RelaSize
	if base.hdr.EntSize == LegacyRelaSize {
		size = LegacyRelaSize
	}
	if len(base.data)%size != 0 {
		return nil, errors.Wrapf(ErrFormat, "relocation table %s: size %d is not a multiple of %d", base.String(), len(base.data), size)
	}
	entries := make([]Relocation, 0, len(base.data)/size)
	for off := 0; off < len(base.data); off += size {
		e := base.data[off : off+size]
		rel := Relocation{
			Offset:    byteOrder.Uint32(e[0:4]),
			Info:      byteOrder.Uint32(e[4:8]),
			HasAddend: true,
		}
		if size == LegacyRelaSize {
			rel.Addend = int32(int16(byteOrder.Uint16(e[8:10])))
		} else {
			rel.Addend = int32(byteOrder.Uint32(e[8:12]))
		}
		entries = append(entries, rel)
	}
	return &RelaTable{sectionBase: base, entries: entries}, nil
}

func (t *RelaTable) Relocations() []Relocation {
	return t.entries
}
