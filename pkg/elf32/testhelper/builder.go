// Package testhelper assembles small ELF32 images in memory for tests.
package testhelper

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym describes one symbol table entry. Name is interned into the table's
// string table by the builder.
type Sym struct {
	Name  string
	Value uint32
	Size  uint32
	Bind  elf.SymBind
	Type  elf.SymType
	Shndx uint16
}

// Rel describes one relocation entry. Addend is ignored for REL tables.
type Rel struct {
	Offset uint32
	Sym    uint32
	Type   elf.R_386
	Addend int32
}

type segment struct {
	hdr  elf.Prog32
	data []byte
}

type section struct {
	name string
	hdr  elf.Section32
	data []byte
}

// Builder lays an image out as: header, program headers, segment payloads,
// section payloads, section names, section headers.
type Builder struct {
	typ        elf.Type
	machine    elf.Machine
	entry      uint32
	ident      *[elf.EI_NIDENT]byte
	namesIndex *uint16
	segments   []segment
	sections   []section
}

func New(typ elf.Type) *Builder {
	return &Builder{
		typ:      typ,
		machine:  elf.EM_386,
		sections: []section{{}},
	}
}

func (b *Builder) WithMachine(m elf.Machine) *Builder {
	b.machine = m
	return b
}

func (b *Builder) WithEntry(entry uint32) *Builder {
	b.entry = entry
	return b
}

// WithIdent overrides the identity bytes, e.g. to corrupt the signature.
func (b *Builder) WithIdent(ident [elf.EI_NIDENT]byte) *Builder {
	b.ident = &ident
	return b
}

// WithNamesIndex overrides the section names index written to the header.
func (b *Builder) WithNamesIndex(idx uint16) *Builder {
	b.namesIndex = &idx
	return b
}

// Segment adds a program header. memsz smaller than len(data) is raised to it.
func (b *Builder) Segment(typ elf.ProgType, flags elf.ProgFlag, vaddr uint32, data []byte, memsz uint32) *Builder {
	b.segments = append(b.segments, segment{
		hdr: elf.Prog32{
			Type:   uint32(typ),
			Vaddr:  vaddr,
			Paddr:  vaddr,
			Filesz: uint32(len(data)),
			Memsz:  max(memsz, uint32(len(data))),
			Flags:  uint32(flags),
			Align:  0x1000,
		},
		data: data,
	})
	return b
}

// Load adds a PT_LOAD segment whose memory size equals its file size.
func (b *Builder) Load(vaddr uint32, flags elf.ProgFlag, data []byte) *Builder {
	return b.Segment(elf.PT_LOAD, flags, vaddr, data, uint32(len(data)))
}

// Section adds a section and returns its index.
func (b *Builder) Section(name string, typ elf.SectionType, addr uint32, data []byte) uint32 {
	b.sections = append(b.sections, section{
		name: name,
		hdr: elf.Section32{
			Type:      uint32(typ),
			Addr:      addr,
			Size:      uint32(len(data)),
			Addralign: 1,
		},
		data: data,
	})
	return uint32(len(b.sections) - 1)
}

// NoBits adds a SHT_NOBITS section of the given size.
func (b *Builder) NoBits(name string, addr, size uint32) uint32 {
	idx := b.Section(name, elf.SHT_NOBITS, addr, nil)
	b.sections[idx].hdr.Size = size
	b.sections[idx].hdr.Flags = uint32(elf.SHF_ALLOC | elf.SHF_WRITE)
	return idx
}

// StringTable adds a SHT_STRTAB section holding strs and returns its index
// together with the offset of every string.
func (b *Builder) StringTable(name string, addr uint32, strs ...string) (uint32, map[string]uint32) {
	data, offsets := stringTable(strs)
	return b.Section(name, elf.SHT_STRTAB, addr, data), offsets
}

// Symbols adds a string table and a symbol table linked to it, and returns
// the symbol table index. A null symbol is always written at index 0, so the
// i-th entry of syms has symbol index i+1.
func (b *Builder) Symbols(dynamic bool, syms ...Sym) uint32 {
	name, strName, typ := ".symtab", ".strtab", elf.SHT_SYMTAB
	if dynamic {
		name, strName, typ = ".dynsym", ".dynsym.str", elf.SHT_DYNSYM
	}
	names := make([]string, 0, len(syms))
	for _, s := range syms {
		names = append(names, s.Name)
	}
	strIdx, offsets := b.StringTable(strName, 0, names...)

	var buf bytes.Buffer
	write(&buf, elf.Sym32{})
	for _, s := range syms {
		write(&buf, elf.Sym32{
			Name:  offsets[s.Name],
			Value: s.Value,
			Size:  s.Size,
			Info:  elf.ST_INFO(s.Bind, s.Type),
			Shndx: s.Shndx,
		})
	}
	idx := b.Section(name, typ, 0, buf.Bytes())
	b.sections[idx].hdr.Link = strIdx
	b.sections[idx].hdr.Entsize = 16
	return idx
}

// Rel adds a SHT_REL table linked to symtab.
func (b *Builder) Rel(name string, symtab uint32, rels ...Rel) uint32 {
	var buf bytes.Buffer
	for _, r := range rels {
		write(&buf, elf.Rel32{Off: r.Offset, Info: elf.R_INFO32(r.Sym, uint32(r.Type))})
	}
	idx := b.Section(name, elf.SHT_REL, 0, buf.Bytes())
	b.sections[idx].hdr.Link = symtab
	b.sections[idx].hdr.Entsize = 8
	return idx
}

// Rela adds a SHT_RELA table linked to symtab. entSize 10 writes the narrow
// layout with a 16 bit addend; anything else writes 12 byte entries.
func (b *Builder) Rela(name string, symtab, entSize uint32, rels ...Rel) uint32 {
	var buf bytes.Buffer
	for _, r := range rels {
		info := elf.R_INFO32(r.Sym, uint32(r.Type))
		if entSize == 10 {
			write(&buf, r.Offset)
			write(&buf, info)
			write(&buf, int16(r.Addend))
			continue
		}
		write(&buf, elf.Rela32{Off: r.Offset, Info: info, Addend: r.Addend})
	}
	if entSize != 10 {
		entSize = 12
	}
	idx := b.Section(name, elf.SHT_RELA, 0, buf.Bytes())
	b.sections[idx].hdr.Link = symtab
	b.sections[idx].hdr.Entsize = entSize
	return idx
}

// Dynamic adds a dynamic string table loaded at strAddr, a SHT_DYNAMIC
// section with DT_NEEDED entries for needed, and a PT_DYNAMIC segment with the
// same entries.
func (b *Builder) Dynamic(strAddr uint32, needed ...string) *Builder {
	strIdx, offsets := b.StringTable(".dynstr", strAddr, needed...)
	var buf bytes.Buffer
	for _, n := range needed {
		write(&buf, elf.Dyn32{Tag: int32(elf.DT_NEEDED), Val: offsets[n]})
	}
	write(&buf, elf.Dyn32{Tag: int32(elf.DT_STRTAB), Val: strAddr})
	write(&buf, elf.Dyn32{Tag: int32(elf.DT_STRSZ), Val: uint32(len(b.sections[strIdx].data))})
	write(&buf, elf.Dyn32{Tag: int32(elf.DT_NULL)})
	idx := b.Section(".dynamic", elf.SHT_DYNAMIC, 0, buf.Bytes())
	b.sections[idx].hdr.Link = strIdx
	b.sections[idx].hdr.Entsize = 8
	return b.Segment(elf.PT_DYNAMIC, elf.PF_R|elf.PF_W, 0, buf.Bytes(), 0)
}

// Interp adds a PT_INTERP segment naming path.
func (b *Builder) Interp(path string) *Builder {
	return b.Segment(elf.PT_INTERP, elf.PF_R, 0, append([]byte(path), 0), 0)
}

// Bytes assembles the image.
func (b *Builder) Bytes() []byte {
	const (
		ehsize    = 52
		phentsize = 32
		shentsize = 40
	)
	var names []string
	for _, s := range b.sections[1:] {
		names = append(names, s.name)
	}
	names = append(names, ".shstrtab")
	shstrtab, nameOffsets := stringTable(names)
	sections := append(b.sections[:len(b.sections):len(b.sections)], section{
		name: ".shstrtab",
		hdr:  elf.Section32{Type: uint32(elf.SHT_STRTAB), Size: uint32(len(shstrtab)), Addralign: 1},
		data: shstrtab,
	})

	off := uint32(ehsize)
	var phoff uint32
	if len(b.segments) > 0 {
		phoff = off
		off += phentsize * uint32(len(b.segments))
	}
	segments := make([]segment, len(b.segments))
	copy(segments, b.segments)
	for i := range segments {
		segments[i].hdr.Off = off
		off += uint32(len(segments[i].data))
	}
	for i := 1; i < len(sections); i++ {
		sections[i].hdr.Name = nameOffsets[sections[i].name]
		sections[i].hdr.Off = off
		if elf.SectionType(sections[i].hdr.Type) != elf.SHT_NOBITS {
			off += uint32(len(sections[i].data))
		}
	}
	off = (off + 3) &^ 3
	shoff := off

	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	if b.ident != nil {
		ident = *b.ident
	}
	shstrndx := uint16(len(sections) - 1)
	if b.namesIndex != nil {
		shstrndx = *b.namesIndex
	}

	var buf bytes.Buffer
	write(&buf, elf.Header32{
		Ident:     ident,
		Type:      uint16(b.typ),
		Machine:   uint16(b.machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.entry,
		Phoff:     phoff,
		Shoff:     shoff,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segments)),
		Shentsize: shentsize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  shstrndx,
	})
	for _, s := range segments {
		write(&buf, s.hdr)
	}
	for _, s := range segments {
		buf.Write(s.data)
	}
	for _, s := range sections[1:] {
		if elf.SectionType(s.hdr.Type) != elf.SHT_NOBITS {
			buf.Write(s.data)
		}
	}
	for buf.Len() < int(shoff) {
		buf.WriteByte(0)
	}
	for _, s := range sections {
		write(&buf, s.hdr)
	}
	return buf.Bytes()
}

// Reader returns the assembled image as an io.ReadSeeker.
func (b *Builder) Reader() *bytes.Reader {
	return bytes.NewReader(b.Bytes())
}

func stringTable(strs []string) ([]byte, map[string]uint32) {
	data := []byte{0}
	offsets := make(map[string]uint32, len(strs))
	for _, s := range strs {
		if _, ok := offsets[s]; ok {
			continue
		}
		if s == "" {
			offsets[s] = 0
			continue
		}
		offsets[s] = uint32(len(data))
		data = append(data, s...)
		data = append(data, 0)
	}
	return data, offsets
}

func write(buf *bytes.Buffer, v any) {
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}
