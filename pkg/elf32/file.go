package elf32

import (
	"bytes"
	"debug/elf"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// NoBaseAddress is the base address of a file without Load segments.
const NoBaseAddress uint32 = math.MaxUint32

// File is a parsed ELF32 image. It is immutable once Parse returns and may be
// shared between goroutines.
type File struct {
	Header
	Sections []Section
	Segments []Segment

	baseOnce sync.Once
	base     uint32
}

// Parse reads the header, validates it, then reads the section and program
// header tables with their payloads. Any failure aborts the parse and no
// partial File is returned.
func Parse(rs io.ReadSeeker) (*File, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "seek to end")
	}
	r := &stream{r: rs, size: size}
	b, err := r.readAt(0, HeaderSize)
	if err != nil {
		return nil, errors.WithMessage(err, "header")
	}
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}
	f := &File{Header: *hdr}
	if err := f.readSections(r); err != nil {
		return nil, err
	}
	if err := f.readSegments(r); err != nil {
		return nil, err
	}
	return f, nil
}

// stream is the file being parsed. Ranges are checked against its size
// before any buffer is allocated.
type stream struct {
	r    io.ReadSeeker
	size int64
}

func (s *stream) readAt(off int64, n uint32) ([]byte, error) {
	if off < 0 || off+int64(n) > s.size {
		return nil, errors.Wrapf(ErrFormat, "%d bytes at %#x are past the end of the file (%d bytes)", n, off, s.size)
	}
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return nil, errors.Wrapf(ErrFormat, "seek to %#x: %v", off, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrapf(ErrFormat, "short read of %d bytes at %#x", n, off)
		}
		return nil, errors.Wrapf(err, "read %d bytes at %#x", n, off)
	}
	return buf, nil
}

func (f *File) readSections(r *stream) error {
	n := int(f.SecHeaderNumEntries)
	if n == 0 {
		return nil
	}
	stride := int64(max(f.SecHeaderEntrySize, SectionHeaderSize))
	f.Sections = make([]Section, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.readAt(int64(f.SecHeaderTableOffset)+int64(i)*stride, SectionHeaderSize)
		if err != nil {
			return errors.WithMessagef(err, "section header %d", i)
		}
		hdr := decodeSectionHeader(b)
		var data []byte
		if hdr.hasFileData() && hdr.Size > 0 {
			if data, err = r.readAt(int64(hdr.Offset), hdr.Size); err != nil {
				return errors.WithMessagef(err, "section %d payload", i)
			}
		}
		s, err := newSection(hdr, i, data)
		if err != nil {
			return err
		}
		f.Sections = append(f.Sections, s)
	}

	idx := int(f.SecHeaderStringIndex)
	if idx == int(elf.SHN_UNDEF) {
		return nil
	}
	if idx >= len(f.Sections) {
		return errors.Wrapf(ErrLookup, "section names index %d out of range (%d sections)", idx, len(f.Sections))
	}
	names, ok := f.Sections[idx].(*StringTable)
	if !ok {
		return errors.Wrapf(ErrLookup, "section names index %d is %s, not a string table", idx, f.Sections[idx].Header().Type)
	}
	for _, s := range f.Sections {
		s.setName(names.Get(s.Header().NameIndex))
	}
	return nil
}

func (f *File) readSegments(r *stream) error {
	n := int(f.ProgHeaderNumEntries)
	if n == 0 {
		return nil
	}
	stride := int64(max(f.ProgHeaderEntrySize, ProgHeaderSize))
	f.Segments = make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.readAt(int64(f.ProgHeaderTableOffset)+int64(i)*stride, ProgHeaderSize)
		if err != nil {
			return errors.WithMessagef(err, "program header %d", i)
		}
		seg := Segment{SegmentHeader: decodeSegmentHeader(b)}
		if seg.FileSize > 0 {
			if seg.Data, err = r.readAt(int64(seg.Offset), seg.FileSize); err != nil {
				return errors.WithMessagef(err, "segment %d payload", i)
			}
		}
		f.Segments = append(f.Segments, seg)
	}
	return nil
}

// BaseAddress is the lowest virtual address of any Load segment, or
// NoBaseAddress if the file has none.
func (f *File) BaseAddress() uint32 {
	f.baseOnce.Do(func() {
		f.base = NoBaseAddress
		for i := range f.Segments {
			if s := &f.Segments[i]; s.Type == elf.PT_LOAD && s.Vaddr < f.base {
				f.base = s.Vaddr
			}
		}
	})
	return f.base
}

func (f *File) LoadSegments() []Segment {
	return lo.Filter(f.Segments, func(s Segment, _ int) bool {
		return s.Type == elf.PT_LOAD
	})
}

// IsDynamic reports whether the file asks for an interpreter or carries a
// dynamic segment, i.e. whether it has dependencies to load.
func (f *File) IsDynamic() bool {
	return lo.ContainsBy(f.Segments, func(s Segment) bool {
		return s.Type == elf.PT_INTERP || s.Type == elf.PT_DYNAMIC
	})
}

// Interp returns the requested program interpreter, if any.
func (f *File) Interp() (string, bool) {
	s, ok := lo.Find(f.Segments, func(s Segment) bool { return s.Type == elf.PT_INTERP })
	if !ok {
		return "", false
	}
	return string(bytes.TrimRight(s.Data, "\x00")), true
}

// Section returns the first section with the given name, or nil.
func (f *File) Section(name string) Section {
	for _, s := range f.Sections {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (f *File) SymbolTables() []*SymbolTable {
	var res []*SymbolTable
	for _, s := range f.Sections {
		if t, ok := s.(*SymbolTable); ok {
			res = append(res, t)
		}
	}
	return res
}

// StringTableAt returns the string table at section index idx.
func (f *File) StringTableAt(idx uint32) (*StringTable, error) {
	if uint64(idx) >= uint64(len(f.Sections)) {
		return nil, errors.Wrapf(ErrLookup, "section index %d out of range", idx)
	}
	t, ok := f.Sections[idx].(*StringTable)
	if !ok {
		return nil, errors.Wrapf(ErrLookup, "section %d is %s, not a string table", idx, f.Sections[idx].Header().Type)
	}
	return t, nil
}

// SymbolTableAt returns the symbol table at section index idx, typically the
// link of a relocation section.
func (f *File) SymbolTableAt(idx uint32) (*SymbolTable, error) {
	if uint64(idx) >= uint64(len(f.Sections)) {
		return nil, errors.Wrapf(ErrLookup, "section index %d out of range", idx)
	}
	t, ok := f.Sections[idx].(*SymbolTable)
	if !ok {
		return nil, errors.Wrapf(ErrLookup, "section %d is %s, not a symbol table", idx, f.Sections[idx].Header().Type)
	}
	return t, nil
}

// Strings returns the string table linked from the symbol table.
func (f *File) Strings(tab *SymbolTable) (*StringTable, error) {
	t, err := f.StringTableAt(tab.Link())
	if err != nil {
		return nil, errors.WithMessagef(err, "symbol table %s", tab.String())
	}
	return t, nil
}

func (f *File) SymbolName(tab *SymbolTable, sym Symbol) (string, error) {
	strs, err := f.Strings(tab)
	if err != nil {
		return "", err
	}
	return strs.Get(sym.NameIndex), nil
}

// Dynamic returns the dynamic table from the SHT_DYNAMIC section, falling back
// to the PT_DYNAMIC segment when the file has no section headers for it. A
// static file yields a nil table.
func (f *File) Dynamic() (DynamicTable, error) {
	for _, s := range f.Sections {
		if d, ok := s.(*DynamicSection); ok {
			return d.DynamicTable, nil
		}
	}
	for i := range f.Segments {
		if s := &f.Segments[i]; s.Type == elf.PT_DYNAMIC {
			d, err := decodeDynamic(s.Data[:len(s.Data)-len(s.Data)%DynEntrySize])
			if err != nil {
				return nil, errors.WithMessagef(err, "segment %d", i)
			}
			return d, nil
		}
	}
	return nil, nil
}

// ReadVirtual returns size file-resident bytes at the file-relative virtual
// address addr. It looks for a section loaded at addr first, then for a
// Load segment covering the whole range.
func (f *File) ReadVirtual(addr, size uint32) ([]byte, bool) {
	for _, s := range f.Sections {
		h := s.Header()
		if h.Addr == addr && h.Addr != 0 && uint64(size) <= uint64(len(s.Data())) {
			return s.Data()[:size], true
		}
	}
	end := uint64(addr) + uint64(size)
	for i := range f.Segments {
		s := &f.Segments[i]
		if s.Type != elf.PT_LOAD || addr < s.Vaddr {
			continue
		}
		if end <= uint64(s.Vaddr)+uint64(len(s.Data)) {
			off := addr - s.Vaddr
			return s.Data[off : off+size], true
		}
	}
	return nil, false
}

// DynamicStrings returns the string table named by DT_STRTAB and DT_STRSZ.
func (f *File) DynamicStrings() (*StringTable, error) {
	dyn, err := f.Dynamic()
	if err != nil {
		return nil, err
	}
	addr, ok := dyn.Find(elf.DT_STRTAB)
	if !ok {
		return nil, errors.Wrap(ErrLookup, "no DT_STRTAB entry")
	}
	size, ok := dyn.Find(elf.DT_STRSZ)
	if !ok {
		return nil, errors.Wrap(ErrLookup, "no DT_STRSZ entry")
	}
	data, ok := f.ReadVirtual(addr.Value, size.Value)
	if !ok {
		return nil, errors.Wrapf(ErrLookup, "dynamic string table at %#x (%d bytes) is not file-resident", addr.Value, size.Value)
	}
	return NewStringTable(data), nil
}

// Needed returns the DT_NEEDED library names in declaration order.
func (f *File) Needed() ([]string, error) {
	dyn, err := f.Dynamic()
	if err != nil || len(dyn) == 0 {
		return nil, err
	}
	var names []string
	var strs *StringTable
	for off := range dyn.Needed() {
		if strs == nil {
			if strs, err = f.DynamicStrings(); err != nil {
				return nil, err
			}
		}
		names = append(names, strs.Get(off))
	}
	return names, nil
}
