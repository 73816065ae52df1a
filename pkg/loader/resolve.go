package loader

import (
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/grafana/elfld/pkg/elf32"
)

// Resolution is a symbol definition found in a loaded object.
type Resolution struct {
	Object  *Object
	Symbol  elf32.Symbol
	Address uint32
	Size    uint32
}

// Resolve finds the first exported definition of name, searching the
// executable and then each shared object in load order. Definitions in later
// objects are shadowed. STT_NOTYPE matches a definition of any type.
func (p *Process) Resolve(typ elf.SymType, name string) (Resolution, error) {
	return p.resolveIn(p.objects, typ, name)
}

// resolveExcluding searches every object but skip. It is used for COPY
// relocations, where the executable holds the destination copy.
func (p *Process) resolveExcluding(skip *Object, typ elf.SymType, name string) (Resolution, error) {
	objs := make([]*Object, 0, len(p.objects))
	for _, o := range p.objects {
		if o != skip {
			objs = append(objs, o)
		}
	}
	return p.resolveIn(objs, typ, name)
}

func (p *Process) resolveIn(objs []*Object, typ elf.SymType, name string) (Resolution, error) {
	for _, o := range objs {
		if sym, ok := o.lookup(typ, name); ok {
			return Resolution{
				Object:  o,
				Symbol:  sym,
				Address: o.Translate(sym.Value),
				Size:    sym.Size,
			}, nil
		}
	}
	return Resolution{}, errors.Wrapf(ErrNotFound, "%s %q", typ, name)
}

// lookup searches the object's symbol tables in section order for an
// exported symbol named name.
func (o *Object) lookup(typ elf.SymType, name string) (elf32.Symbol, bool) {
	for _, tab := range o.File.SymbolTables() {
		strs, err := o.File.Strings(tab)
		if err != nil {
			continue
		}
		for _, sym := range tab.Symbols() {
			if !sym.Exported() {
				continue
			}
			if typ != elf.STT_NOTYPE && sym.Type() != typ {
				continue
			}
			if strs.IsMatch(sym.NameIndex, name) {
				return sym, true
			}
		}
	}
	return elf32.Symbol{}, false
}
