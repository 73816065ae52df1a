package elf32_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/grafana/elfld/pkg/elf32"
	"github.com/grafana/elfld/pkg/elf32/testhelper"
)

func TestParse(t *testing.T) {
	b := testhelper.New(elf.ET_EXEC).WithEntry(0x1010)
	b.Load(0x1000, elf.PF_R|elf.PF_X, []byte{0x90, 0x90, 0xc3})
	text := b.Section(".text", elf.SHT_PROGBITS, 0x1000, []byte{0x90, 0x90, 0xc3})
	symtab := b.Symbols(false,
		testhelper.Sym{Name: "main", Value: 0x1000, Size: 3, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Shndx: uint16(text)},
		testhelper.Sym{Name: "helper", Value: 0x1002, Bind: elf.STB_LOCAL, Type: elf.STT_FUNC, Shndx: uint16(text)},
	)
	b.Rel(".rel.text", symtab, testhelper.Rel{Offset: 0x1001, Sym: 1, Type: elf.R_386_32})

	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)

	names := make([]string, 0, len(f.Sections))
	for _, s := range f.Sections {
		names = append(names, s.Name())
	}
	require.Empty(t, cmp.Diff([]string{"", ".text", ".strtab", ".symtab", ".rel.text", ".shstrtab"}, names))

	require.IsType(t, &elf32.RawSection{}, f.Section(".text"))
	require.IsType(t, &elf32.StringTable{}, f.Section(".strtab"))
	require.IsType(t, &elf32.RelTable{}, f.Section(".rel.text"))
	require.Nil(t, f.Section(".data"))

	tabs := f.SymbolTables()
	require.Len(t, tabs, 1)
	require.False(t, tabs[0].IsDynamic())
	require.Equal(t, 3, tabs[0].Len())

	sym, ok := tabs[0].Symbol(1)
	require.True(t, ok)
	require.True(t, sym.Exported())
	require.Equal(t, elf.STT_FUNC, sym.Type())
	name, err := f.SymbolName(tabs[0], sym)
	require.NoError(t, err)
	require.Equal(t, "main", name)

	local, _ := tabs[0].Symbol(2)
	require.Equal(t, elf.STB_LOCAL, local.Binding())
	require.True(t, local.Defined())
	require.False(t, local.Exported())

	_, ok = tabs[0].Symbol(3)
	require.False(t, ok)

	rels := f.Section(".rel.text").(*elf32.RelTable).Relocations()
	require.Equal(t, []elf32.Relocation{{Offset: 0x1001, Info: elf.R_INFO32(1, uint32(elf.R_386_32))}}, rels)
	require.Equal(t, uint32(1), rels[0].SymbolIndex())
	require.Equal(t, elf.R_386_32, rels[0].Type())

	require.Equal(t, uint32(0x1000), f.BaseAddress())
	require.False(t, f.IsDynamic())
	needed, err := f.Needed()
	require.NoError(t, err)
	require.Empty(t, needed)
}

func TestBaseAddress(t *testing.T) {
	t.Run("minimum over load segments", func(t *testing.T) {
		b := testhelper.New(elf.ET_EXEC)
		b.Load(0x3000, elf.PF_R|elf.PF_W, []byte{1})
		b.Segment(elf.PT_NOTE, elf.PF_R, 0x100, []byte{2}, 0)
		b.Load(0x2000, elf.PF_R|elf.PF_X, []byte{3})
		f, err := elf32.Parse(b.Reader())
		require.NoError(t, err)
		require.Equal(t, uint32(0x2000), f.BaseAddress())
		require.Len(t, f.LoadSegments(), 2)
	})
	t.Run("no load segments", func(t *testing.T) {
		b := testhelper.New(elf.ET_REL)
		b.Segment(elf.PT_NOTE, elf.PF_R, 0x100, []byte{2}, 0)
		f, err := elf32.Parse(b.Reader())
		require.NoError(t, err)
		require.Equal(t, elf32.NoBaseAddress, f.BaseAddress())
		require.Empty(t, f.LoadSegments())
	})
}

func TestParseErrors(t *testing.T) {
	t.Run("truncated header", func(t *testing.T) {
		_, err := elf32.Parse(bytes.NewReader(make([]byte, 20)))
		require.ErrorIs(t, err, elf32.ErrFormat)
	})
	t.Run("truncated section table", func(t *testing.T) {
		b := testhelper.New(elf.ET_EXEC)
		b.Section(".data", elf.SHT_PROGBITS, 0x2000, []byte{1, 2, 3, 4})
		img := b.Bytes()
		_, err := elf32.Parse(bytes.NewReader(img[:len(img)-10]))
		require.ErrorIs(t, err, elf32.ErrFormat)
	})
	t.Run("segment payload past end of file", func(t *testing.T) {
		img := testhelper.New(elf.ET_EXEC).Load(0x1000, elf.PF_R, []byte{1, 2, 3, 4}).Bytes()
		// program header filesz
		binary.LittleEndian.PutUint32(img[elf32.HeaderSize+16:], 0x10000)
		_, err := elf32.Parse(bytes.NewReader(img))
		require.ErrorIs(t, err, elf32.ErrFormat)
	})
	t.Run("names index is not a string table", func(t *testing.T) {
		b := testhelper.New(elf.ET_EXEC)
		data := b.Section(".data", elf.SHT_PROGBITS, 0x2000, []byte{1})
		b.WithNamesIndex(uint16(data))
		_, err := elf32.Parse(b.Reader())
		require.ErrorIs(t, err, elf32.ErrLookup)
	})
	t.Run("names index out of range", func(t *testing.T) {
		_, err := elf32.Parse(testhelper.New(elf.ET_EXEC).WithNamesIndex(40).Reader())
		require.ErrorIs(t, err, elf32.ErrLookup)
	})
	t.Run("invalid header", func(t *testing.T) {
		_, err := elf32.Parse(testhelper.New(elf.ET_EXEC).WithMachine(elf.EM_ARM).Reader())
		require.ErrorIs(t, err, elf32.ErrValidation)
	})
	t.Run("partial symbol table", func(t *testing.T) {
		b := testhelper.New(elf.ET_EXEC)
		b.Section(".symtab", elf.SHT_SYMTAB, 0, make([]byte, 20))
		_, err := elf32.Parse(b.Reader())
		require.ErrorIs(t, err, elf32.ErrFormat)
	})
}

func TestParseRejectsOversizedPayload(t *testing.T) {
	b := testhelper.New(elf.ET_EXEC)
	b.Section(".data", elf.SHT_PROGBITS, 0x2000, []byte{1, 2, 3, 4})
	img := b.Bytes()
	shoff := binary.LittleEndian.Uint32(img[32:])
	// sh_size of section 1
	binary.LittleEndian.PutUint32(img[shoff+elf32.SectionHeaderSize+20:], 0x7ffffff0)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := elf32.Parse(bytes.NewReader(img))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, elf32.ErrFormat)
	require.ErrorContains(t, err, "past the end of the file")
	require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestParseWithoutSectionNames(t *testing.T) {
	b := testhelper.New(elf.ET_EXEC).WithNamesIndex(uint16(elf.SHN_UNDEF))
	b.Section(".data", elf.SHT_PROGBITS, 0x2000, []byte{1})
	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)
	require.Equal(t, "", f.Sections[1].Name())
}

func TestNoBitsSectionIsNotRead(t *testing.T) {
	b := testhelper.New(elf.ET_EXEC)
	b.NoBits(".bss", 0x4000, 1<<20)
	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)
	bss := f.Section(".bss")
	require.NotNil(t, bss)
	require.Nil(t, bss.Data())
	require.Equal(t, uint32(1<<20), bss.Header().Size)
}

func TestRelaTables(t *testing.T) {
	rels := []testhelper.Rel{
		{Offset: 0x1000, Sym: 2, Type: elf.R_386_PC32, Addend: -4},
		{Offset: 0x1004, Type: elf.R_386_RELATIVE, Addend: 0x7ff0},
	}
	for _, entSize := range []uint32{elf32.RelaSize, elf32.LegacyRelaSize} {
		b := testhelper.New(elf.ET_DYN)
		b.Rela(".rela.dyn", 0, entSize, rels...)
		f, err := elf32.Parse(b.Reader())
		require.NoError(t, err)

		tab, ok := f.Section(".rela.dyn").(*elf32.RelaTable)
		require.True(t, ok)
		got := tab.Relocations()
		require.Len(t, got, 2)
		require.Equal(t, int32(-4), got[0].Addend, "entsize %d", entSize)
		require.Equal(t, uint32(2), got[0].SymbolIndex())
		require.Equal(t, elf.R_386_PC32, got[0].Type())
		require.True(t, got[0].HasAddend)
		require.Equal(t, int32(0x7ff0), got[1].Addend, "entsize %d", entSize)
		require.Equal(t, uint32(0), got[1].SymbolIndex())
	}
}

func TestDynamic(t *testing.T) {
	b := testhelper.New(elf.ET_EXEC).Interp("/lib/ld-linux.so.2")
	b.Load(0x1000, elf.PF_R|elf.PF_X, []byte{0xc3})
	b.Dynamic(0x5000, "libfoo.so", "libc.so.6")
	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)

	require.True(t, f.IsDynamic())
	interp, ok := f.Interp()
	require.True(t, ok)
	require.Equal(t, "/lib/ld-linux.so.2", interp)

	needed, err := f.Needed()
	require.NoError(t, err)
	require.Equal(t, []string{"libfoo.so", "libc.so.6"}, needed)

	dyn, err := f.Dynamic()
	require.NoError(t, err)
	e, ok := dyn.Find(elf.DT_STRTAB)
	require.True(t, ok)
	require.Equal(t, uint32(0x5000), e.Value)
	_, ok = dyn.Find(elf.DT_HASH)
	require.False(t, ok)
}

func TestDynamicFromSegment(t *testing.T) {
	// no section headers: entries come from PT_DYNAMIC and the string table
	// from the Load segment that covers DT_STRTAB
	strs := []byte("\x00libbar.so\x00")
	var dyn bytes.Buffer
	for _, d := range []elf.Dyn32{
		{Tag: int32(elf.DT_NEEDED), Val: 1},
		{Tag: int32(elf.DT_STRTAB), Val: 0x2004},
		{Tag: int32(elf.DT_STRSZ), Val: uint32(len(strs))},
		{Tag: int32(elf.DT_NULL)},
	} {
		require.NoError(t, binary.Write(&dyn, binary.LittleEndian, d))
	}
	b := testhelper.New(elf.ET_DYN)
	b.Load(0x2000, elf.PF_R, append([]byte{0, 0, 0, 0}, strs...))
	b.Segment(elf.PT_DYNAMIC, elf.PF_R, 0x3000, dyn.Bytes(), 0)
	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)

	require.True(t, f.IsDynamic())
	needed, err := f.Needed()
	require.NoError(t, err)
	require.Equal(t, []string{"libbar.so"}, needed)
}

func TestDynamicStringsMissing(t *testing.T) {
	var dyn bytes.Buffer
	require.NoError(t, binary.Write(&dyn, binary.LittleEndian, elf.Dyn32{Tag: int32(elf.DT_NEEDED), Val: 1}))
	b := testhelper.New(elf.ET_DYN)
	b.Segment(elf.PT_DYNAMIC, elf.PF_R, 0x3000, dyn.Bytes(), 0)
	f, err := elf32.Parse(b.Reader())
	require.NoError(t, err)

	_, err = f.Needed()
	require.ErrorIs(t, err, elf32.ErrLookup)
}
