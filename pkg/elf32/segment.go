package elf32

import "debug/elf"

// ProgHeaderSize is the size of one ELF32 program header entry.
const ProgHeaderSize = 32

type SegmentHeader struct {
	Type     elf.ProgType
	Offset   uint32
	Vaddr    uint32
	Paddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    elf.ProgFlag
	Align    uint32
}

func decodeSegmentHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Type:     elf.ProgType(byteOrder.Uint32(b[0:4])),
		Offset:   byteOrder.Uint32(b[4:8]),
		Vaddr:    byteOrder.Uint32(b[8:12]),
		Paddr:    byteOrder.Uint32(b[12:16]),
		FileSize: byteOrder.Uint32(b[16:20]),
		MemSize:  byteOrder.Uint32(b[20:24]),
		Flags:    elf.ProgFlag(byteOrder.Uint32(b[24:28])),
		Align:    byteOrder.Uint32(b[28:32]),
	}
}

// Segment is a program header and its file-resident bytes. Data may be
// shorter than MemSize; the remainder is zero at placement time.
type Segment struct {
	SegmentHeader
	Data []byte
}

// Contains reports whether vaddr falls inside the segment's memory image.
func (s *Segment) Contains(vaddr uint32) bool {
	return vaddr >= s.Vaddr && uint64(vaddr) < uint64(s.Vaddr)+uint64(s.MemSize)
}

// End is the first virtual address past the segment's memory image.
func (s *Segment) End() uint64 {
	return uint64(s.Vaddr) + uint64(s.MemSize)
}
