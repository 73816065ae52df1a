package loader

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/grafana/elfld/pkg/elf32"
)

// overlay stages relocation writes for one object. Reads see staged bytes on
// top of memory. Nothing reaches memory before commit.
type overlay struct {
	mem    Memory
	staged map[uint32]byte
}

func newOverlay(mem Memory) *overlay {
	return &overlay{mem: mem, staged: make(map[uint32]byte)}
}

func (ov *overlay) read(addr, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := ov.mem.ReadAt(buf, int64(addr)); err != nil {
		return nil, err
	}
	for i := range buf {
		if b, ok := ov.staged[addr+uint32(i)]; ok {
			buf[i] = b
		}
	}
	return buf, nil
}

func (ov *overlay) write(addr uint32, b []byte) {
	for i, v := range b {
		ov.staged[addr+uint32(i)] = v
	}
}

func (ov *overlay) read32(addr uint32) (uint32, error) {
	b, err := ov.read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (ov *overlay) write32(addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	ov.write(addr, b[:])
}

// commit writes staged bytes to memory, one write per contiguous run.
func (ov *overlay) commit() error {
	addrs := lo.Keys(ov.staged)
	slices.Sort(addrs)
	for len(addrs) > 0 {
		n := 1
		for n < len(addrs) && addrs[n] == addrs[n-1]+1 {
			n++
		}
		run := make([]byte, n)
		for i, a := range addrs[:n] {
			run[i] = ov.staged[a]
		}
		if _, err := ov.mem.WriteAt(run, int64(addrs[0])); err != nil {
			return errors.Wrapf(err, "commit %d bytes at %#x", n, addrs[0])
		}
		addrs = addrs[n:]
	}
	clear(ov.staged)
	return nil
}

// Relocate applies the relocation tables of every shared object in load
// order, then those of the executable. Load calls it once. Calling it again
// applies every entry a second time against the already relocated memory.
// With StrictSymbols set, the first object with unresolved symbols stops the
// walk and none of its writes reach memory. Objects relocated before it stay
// committed.
func (p *Process) Relocate(ctx context.Context) error {
	for _, o := range p.Dependencies() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.relocateObject(o, false); err != nil {
			return err
		}
	}
	if p.Executable != nil {
		return p.relocateObject(p.Executable, true)
	}
	return nil
}

func (p *Process) relocateObject(o *Object, exePass bool) error {
	r := &relocator{
		p:       p,
		o:       o,
		ov:      newOverlay(p.mem),
		exePass: exePass,
		logger:  log.With(p.logger, "object", o.Path),
	}
	var errs *multierror.Error
	for _, s := range o.File.Sections {
		var rels []elf32.Relocation
		switch t := s.(type) {
		case *elf32.RelTable:
			rels = t.Relocations()
		case *elf32.RelaTable:
			rels = t.Relocations()
		default:
			continue
		}
		r.setTable(s)
		for _, rel := range rels {
			errs = multierror.Append(errs, r.apply(rel))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	if err := r.ov.commit(); err != nil {
		return errors.WithMessagef(err, "relocate %s", o.Path)
	}
	if o.state < StateRelocated {
		o.state = StateRelocated
	}
	return nil
}

type relocator struct {
	p       *Process
	o       *Object
	ov      *overlay
	exePass bool
	logger  log.Logger

	section elf32.Section
	symtab  *elf32.SymbolTable
	strs    *elf32.StringTable
	tabErr  error
}

// setTable switches to a relocation section. Its symbol table is looked up
// lazily, tables holding only RELATIVE entries may have no link.
func (r *relocator) setTable(s elf32.Section) {
	r.section, r.symtab, r.strs, r.tabErr = s, nil, nil, nil
}

func (r *relocator) symbols() (*elf32.SymbolTable, *elf32.StringTable, error) {
	if r.symtab != nil || r.tabErr != nil {
		return r.symtab, r.strs, r.tabErr
	}
	r.symtab, r.tabErr = r.o.File.SymbolTableAt(r.section.Header().Link)
	if r.tabErr == nil {
		r.strs, r.tabErr = r.o.File.Strings(r.symtab)
	}
	if r.tabErr != nil {
		r.tabErr = errors.WithMessagef(r.tabErr, "relocation section %s", r.section.Name())
	}
	return r.symtab, r.strs, r.tabErr
}

func (r *relocator) apply(rel elf32.Relocation) error {
	typ := rel.Type()
	if typ == elf.R_386_NONE {
		return nil
	}
	target := r.o.Translate(rel.Offset)
	switch typ {
	case elf.R_386_32, elf.R_386_PC32, elf.R_386_RELATIVE, elf.R_386_GLOB_DAT:
	case elf.R_386_JMP_SLOT, elf.R_386_COPY:
		if !r.exePass {
			r.skip(typ, target, "executable_only")
			return nil
		}
	default:
		r.skip(typ, target, "unsupported_type")
		return nil
	}

	word, err := r.ov.read32(target)
	if err != nil {
		r.skip(typ, target, "unmapped_target", "err", err)
		return nil
	}
	addend := word
	if rel.HasAddend {
		addend = uint32(rel.Addend)
	}

	switch typ {
	case elf.R_386_RELATIVE:
		r.ov.write32(target, r.o.LoadBase+addend)
		r.applied(typ)
		return nil
	case elf.R_386_COPY:
		r.copy(rel, target)
		return nil
	}

	s, err := r.symbolAddress(rel)
	if err != nil {
		return r.unresolved(typ, target, err)
	}
	var v uint32
	switch typ {
	case elf.R_386_32:
		v = s + addend
	case elf.R_386_PC32:
		v = s + addend - target
	case elf.R_386_GLOB_DAT, elf.R_386_JMP_SLOT:
		v = s
	}
	r.ov.write32(target, v)
	r.applied(typ)
	return nil
}

// symbolAddress is S: 0 for symbol index 0, the object's own definition for
// local symbols, and the process-wide resolution otherwise. An undefined weak
// symbol nobody defines is 0.
func (r *relocator) symbolAddress(rel elf32.Relocation) (uint32, error) {
	idx := rel.SymbolIndex()
	if idx == 0 {
		return 0, nil
	}
	sym, name, err := r.symbol(idx)
	if err != nil {
		return 0, err
	}
	if sym.Binding() == elf.STB_LOCAL && sym.Defined() {
		return r.o.Translate(sym.Value), nil
	}
	res, err := r.p.Resolve(sym.Type(), name)
	if err != nil {
		if sym.Binding() == elf.STB_WEAK && !sym.Defined() {
			return 0, nil
		}
		return 0, err
	}
	return res.Address, nil
}

func (r *relocator) symbol(idx uint32) (elf32.Symbol, string, error) {
	tab, strs, err := r.symbols()
	if err != nil {
		return elf32.Symbol{}, "", err
	}
	sym, ok := tab.Symbol(idx)
	if !ok {
		return elf32.Symbol{}, "", errors.Wrapf(elf32.ErrLookup, "symbol index %d out of range in %s", idx, tab.Name())
	}
	return sym, strs.Get(sym.NameIndex), nil
}

// copy moves the initial value of a data symbol from the shared object that
// defines it into the executable's copy. Failures are never fatal.
func (r *relocator) copy(rel elf32.Relocation, target uint32) {
	typ := rel.Type()
	sym, name, err := r.symbol(rel.SymbolIndex())
	if err != nil {
		r.skip(typ, target, "copy_failed", "err", err)
		return
	}
	res, err := r.p.resolveExcluding(r.o, sym.Type(), name)
	if err != nil {
		r.skip(typ, target, "copy_failed", "symbol", name, "err", err)
		return
	}
	if !res.Object.Contains(res.Address, res.Size) {
		err = errors.Errorf("%d bytes at %#x exceed %s", res.Size, res.Address, res.Object.Name())
	} else if !r.o.Contains(target, res.Size) {
		err = errors.Errorf("%d bytes at %#x exceed %s", res.Size, target, r.o.Name())
	}
	var b []byte
	if err == nil {
		b, err = r.ov.read(res.Address, res.Size)
	}
	if err == nil {
		_, err = r.ov.read(target, res.Size)
	}
	if err != nil {
		r.skip(typ, target, "copy_failed", "symbol", name, "err", err)
		return
	}
	r.ov.write(target, b)
	r.applied(typ)
}

func (r *relocator) applied(typ elf.R_386) {
	r.p.metrics.RelocationsApplied.WithLabelValues(typ.String()).Inc()
}

func (r *relocator) skip(typ elf.R_386, target uint32, reason string, keyvals ...interface{}) {
	r.p.metrics.RelocationsSkipped.WithLabelValues(reason).Inc()
	keyvals = append([]interface{}{"msg", "relocation skipped", "type", typ, "target", fmt.Sprintf("%#x", target), "reason", reason}, keyvals...)
	level.Warn(r.logger).Log(keyvals...)
}

func (r *relocator) unresolved(typ elf.R_386, target uint32, err error) error {
	r.p.metrics.UnresolvedSymbols.Inc()
	if r.p.cfg.StrictSymbols {
		return errors.WithMessagef(err, "%s at %#x in %s", typ, target, r.o.Path)
	}
	level.Warn(r.logger).Log("msg", "unresolved symbol", "type", typ, "target", fmt.Sprintf("%#x", target), "err", err)
	return nil
}
