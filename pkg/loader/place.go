package loader

import (
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

func alignDown(v uint64, page uint64) uint64 {
	return v &^ (page - 1)
}

func alignUp(v uint64, page uint64) uint64 {
	return (v + page - 1) &^ (page - 1)
}

// overlapping returns a placed object sharing a page with o, if any.
func (p *Process) overlapping(o *Object) *Object {
	page := uint64(p.cfg.PageSize)
	pages := func(o *Object) (uint64, uint64) {
		start, end := o.Span()
		return alignDown(uint64(start), page), alignUp(end, page)
	}
	start, end := pages(o)
	if start == end {
		return nil
	}
	for _, other := range p.objects {
		if os, oe := pages(other); os < oe && start < oe && os < end {
			return other
		}
	}
	return nil
}

// place maps and fills every Load segment of o at o.LoadBase.
func (p *Process) place(o *Object) error {
	page := uint64(p.cfg.PageSize)
	for i, seg := range o.File.LoadSegments() {
		if seg.MemSize == 0 {
			continue
		}
		start := uint64(o.Translate(seg.Vaddr))
		end := start + uint64(seg.MemSize)
		if end > 1<<32 {
			return errors.Errorf("%s: segment %d at %#x+%#x does not fit in the address space", o.Path, i, start, seg.MemSize)
		}
		mapStart, mapEnd := alignDown(start, page), min(alignUp(end, page), 1<<32)
		if err := p.mem.Map(uint32(mapStart), uint32(mapEnd-mapStart), seg.Flags); err != nil {
			return errors.Wrapf(err, "%s: map segment %d", o.Path, i)
		}
		p.metrics.MappedBytes.Add(float64(mapEnd - mapStart))

		data := seg.Data
		if uint64(len(data)) > uint64(seg.MemSize) {
			data = data[:seg.MemSize]
		}
		if _, err := p.mem.WriteAt(data, int64(start)); err != nil {
			return errors.Wrapf(err, "%s: write segment %d", o.Path, i)
		}
		if bss := uint64(seg.MemSize) - uint64(len(data)); bss > 0 {
			if _, err := p.mem.WriteAt(make([]byte, bss), int64(start)+int64(len(data))); err != nil {
				return errors.Wrapf(err, "%s: zero fill segment %d", o.Path, i)
			}
		}
		level.Debug(p.logger).Log(
			"msg", "placed segment",
			"object", o.Path,
			"vaddr", fmt.Sprintf("%#x", seg.Vaddr),
			"addr", fmt.Sprintf("%#x", start),
			"filesz", len(seg.Data),
			"memsz", seg.MemSize,
			"flags", seg.Flags,
		)
	}
	o.state = StateSegmentsPlaced
	return nil
}
