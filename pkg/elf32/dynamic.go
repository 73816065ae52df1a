package elf32

import (
	"debug/elf"
	"iter"

	"github.com/pkg/errors"
)

// DynEntrySize is the size of one ELF32 dynamic table entry.
const DynEntrySize = 8

type DynEntry struct {
	Tag   elf.DynTag
	Value uint32
}

// DynamicTable is the ordered list of dynamic entries, without the
// terminating DT_NULL.
type DynamicTable []DynEntry

func decodeDynamic(data []byte) (DynamicTable, error) {
	if len(data)%DynEntrySize != 0 {
		return nil, errors.Wrapf(ErrFormat, "dynamic table: size %d is not a multiple of %d", len(data), DynEntrySize)
	}
	var entries DynamicTable
	for off := 0; off < len(data); off += DynEntrySize {
		tag := elf.DynTag(int32(byteOrder.Uint32(data[off : off+4])))
		if tag == elf.DT_NULL {
			break
		}
		entries = append(entries, DynEntry{
			Tag:   tag,
			Value: byteOrder.Uint32(data[off+4 : off+8]),
		})
	}
	return entries, nil
}

// Find returns the first entry with the given tag.
func (d DynamicTable) Find(tag elf.DynTag) (DynEntry, bool) {
	for _, e := range d {
		if e.Tag == tag {
			return e, true
		}
	}
	return DynEntry{}, false
}

// Needed yields the dynamic string table offsets of every DT_NEEDED entry,
// in declaration order.
func (d DynamicTable) Needed() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, e := range d {
			if e.Tag != elf.DT_NEEDED {
				continue
			}
			if !yield(e.Value) {
				return
			}
		}
	}
}

// DynamicSection is a SHT_DYNAMIC section.
type DynamicSection struct {
	sectionBase
	DynamicTable
}

func newDynamicSection(base sectionBase) (*DynamicSection, error) {
	entries, err := decodeDynamic(base.data)
	if err != nil {
		return nil, errors.WithMessagef(err, "section %s", base.String())
	}
	return &DynamicSection{sectionBase: base, DynamicTable: entries}, nil
}
