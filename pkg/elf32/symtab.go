package elf32

import (
	"debug/elf"

	"github.com/pkg/errors"
)

// SymbolSize is the size of one ELF32 symbol table entry.
const SymbolSize = 16

type Symbol struct {
	NameIndex    uint32
	Value        uint32
	Size         uint32
	Info         uint8
	Other        uint8
	SectionIndex uint16
}

func (s Symbol) Binding() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

func (s Symbol) Type() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// Defined reports whether the symbol is defined in the file that holds it.
func (s Symbol) Defined() bool {
	return s.SectionIndex > uint16(elf.SHN_UNDEF)
}

// Exported reports whether the symbol can satisfy a reference from another
// object: a global binding with a defining section.
func (s Symbol) Exported() bool {
	return s.Binding() == elf.STB_GLOBAL && s.Defined()
}

// SymbolTable is a SHT_SYMTAB or SHT_DYNSYM section.
type SymbolTable struct {
	sectionBase
	symbols []Symbol
	dynamic bool
}

func newSymbolTable(base sectionBase, dynamic bool) (*SymbolTable, error) {
	if len(base.data)%SymbolSize != 0 {
		return nil, errors.Wrapf(ErrFormat, "symbol table %s: size %d is not a multiple of %d", base.String(), len(base.data), SymbolSize)
	}
	symbols := make([]Symbol, 0, len(base.data)/SymbolSize)
	for off := 0; off < len(base.data); off += SymbolSize {
		e := base.data[off : off+SymbolSize]
		symbols = append(symbols, Symbol{
			NameIndex:    byteOrder.Uint32(e[0:4]),
			Value:        byteOrder.Uint32(e[4:8]),
			Size:         byteOrder.Uint32(e[8:12]),
			Info:         e[12],
			Other:        e[13],
			SectionIndex: byteOrder.Uint16(e[14:16]),
		})
	}
	return &SymbolTable{sectionBase: base, symbols: symbols, dynamic: dynamic}, nil
}

// IsDynamic reports whether the table is the dynamic symbol table.
func (t *SymbolTable) IsDynamic() bool {
	return t.dynamic
}

func (t *SymbolTable) Len() int {
	return len(t.symbols)
}

func (t *SymbolTable) Symbol(i uint32) (Symbol, bool) {
	if uint64(i) >= uint64(len(t.symbols)) {
		return Symbol{}, false
	}
	return t.symbols[i], true
}

func (t *SymbolTable) Symbols() []Symbol {
	return t.symbols
}

// Link is the section index of the string table holding the symbol names.
func (t *SymbolTable) Link() uint32 {
	return t.hdr.Link
}
