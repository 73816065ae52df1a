// Package procmem provides a sparse, paged process address space for the
// loader to place segments into.
package procmem

import (
	"debug/elf"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const DefaultPageSize = 4096

var (
	ErrUnmapped = errors.New("address not mapped")
	ErrRange    = errors.New("address range overflows the 32 bit address space")
)

type page struct {
	data []byte
	perm elf.ProgFlag
}

// Memory is a 32 bit address space made of fixed size pages. Pages are
// allocated zeroed by Map. Writes ignore page permissions: the loader writes
// relocated words into read-only text before the process would run.
type Memory struct {
	mu       sync.RWMutex
	pageSize uint32
	pages    map[uint32]*page
}

// New returns an empty address space. pageSize must be a power of two; zero
// selects DefaultPageSize.
func New(pageSize uint32) *Memory {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize&(pageSize-1) != 0 {
		panic("procmem: page size must be a power of two")
	}
	return &Memory{
		pageSize: pageSize,
		pages:    make(map[uint32]*page),
	}
}

func (m *Memory) PageSize() uint32 {
	return m.pageSize
}

// Map maps every page touched by [addr, addr+size). Pages that are already
// mapped keep their contents and gain perm.
func (m *Memory) Map(addr, size uint32, perm elf.ProgFlag) error {
	if size == 0 {
		return nil
	}
	end := uint64(addr) + uint64(size)
	if end > 1<<32 {
		return errors.Wrapf(ErrRange, "map %#x+%#x", addr, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mask := uint64(m.pageSize - 1)
	for p := uint64(addr) &^ mask; p < end; p += uint64(m.pageSize) {
		if pg, ok := m.pages[uint32(p)]; ok {
			pg.perm |= perm
			continue
		}
		m.pages[uint32(p)] = &page{data: make([]byte, m.pageSize), perm: perm}
	}
	return nil
}

// ReadAt implements io.ReaderAt over the address space. The whole range must
// be mapped.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access(p, off, func(pg []byte, buf []byte) { copy(buf, pg) })
}

// WriteAt implements io.WriterAt over the address space. The whole range must
// be mapped; nothing is written otherwise.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access(p, off, func(pg []byte, buf []byte) { copy(pg, buf) })
}

func (m *Memory) access(p []byte, off int64, fn func(pg, buf []byte)) (int, error) {
	if off < 0 || uint64(off)+uint64(len(p)) > 1<<32 {
		return 0, errors.Wrapf(ErrRange, "access %#x+%#x", off, len(p))
	}
	mask := uint64(m.pageSize - 1)
	start, end := uint64(off), uint64(off)+uint64(len(p))
	for a := start &^ mask; a < end; a += uint64(m.pageSize) {
		if _, ok := m.pages[uint32(a)]; !ok {
			return 0, errors.Wrapf(ErrUnmapped, "page %#x", a)
		}
	}
	for a := start; a < end; {
		pg := m.pages[uint32(a&^mask)]
		in := a & mask
		n := min(uint64(m.pageSize)-in, end-a)
		fn(pg.data[in:in+n], p[a-start:a-start+n])
		a += n
	}
	return len(p), nil
}

// Region is a run of contiguous pages sharing the same permissions.
type Region struct {
	Start uint32
	Size  uint64
	Perm  elf.ProgFlag
}

func (r Region) End() uint64 {
	return uint64(r.Start) + r.Size
}

// Regions lists the mapped address ranges in ascending order.
func (m *Memory) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addrs := lo.Keys(m.pages)
	slices.Sort(addrs)

	var res []Region
	for _, a := range addrs {
		perm := m.pages[a].perm
		if n := len(res); n > 0 && res[n-1].End() == uint64(a) && res[n-1].Perm == perm {
			res[n-1].Size += uint64(m.pageSize)
			continue
		}
		res = append(res, Region{Start: a, Size: uint64(m.pageSize), Perm: perm})
	}
	return res
}

// Mapped is the number of bytes backed by pages.
func (m *Memory) Mapped() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.pages)) * uint64(m.pageSize)
}
