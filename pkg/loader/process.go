package loader

import (
	"debug/elf"
	"io"
	"path/filepath"

	"github.com/go-kit/log"

	"github.com/grafana/elfld/pkg/elf32"
)

// Memory is the address space objects are placed into.
type Memory interface {
	// Map makes [addr, addr+size) accessible with the given permissions.
	// The loader only passes page aligned ranges.
	Map(addr, size uint32, perm elf.ProgFlag) error
	io.ReaderAt
	io.WriterAt
}

type Kind int

const (
	KindExecutable Kind = iota
	KindSharedObject
)

func (k Kind) String() string {
	switch k {
	case KindExecutable:
		return "executable"
	case KindSharedObject:
		return "shared_object"
	default:
		return "unknown"
	}
}

// State is how far an object has progressed through loading. Parsing happens
// before an Object exists, so every Object starts out Parsed.
type State int

const (
	StateParsed State = iota
	StateSegmentsPlaced
	StateDependenciesLoaded
	StateRelocated
	StateReady
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateSegmentsPlaced:
		return "segments_placed"
	case StateDependenciesLoaded:
		return "dependencies_loaded"
	case StateRelocated:
		return "relocated"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Object is an executable or shared object placed in a process.
type Object struct {
	Path string
	File *elf32.File
	Kind Kind
	// FileBase is the lowest Load segment address the file was linked at.
	FileBase uint32
	// LoadBase is where FileBase ended up in the process.
	LoadBase uint32
	// Deps are the direct dependencies in DT_NEEDED order, including ones
	// that were already loaded through another object.
	Deps []*Object

	state State
	depth int
}

func newObject(path string, f *elf32.File, kind Kind, depth int) *Object {
	return &Object{
		Path:     path,
		File:     f,
		Kind:     kind,
		FileBase: f.BaseAddress(),
		depth:    depth,
	}
}

func (o *Object) State() State {
	return o.state
}

func (o *Object) Name() string {
	return filepath.Base(o.Path)
}

// Translate maps a file-relative virtual address to its process address.
func (o *Object) Translate(vaddr uint32) uint32 {
	return o.LoadBase + (vaddr - o.FileBase)
}

// Entry is the process address of the file's entry point.
func (o *Object) Entry() uint32 {
	return o.Translate(o.File.Entry)
}

// Span is the process address range covered by the object's Load segments.
func (o *Object) Span() (start uint32, end uint64) {
	if o.FileBase == elf32.NoBaseAddress {
		return o.LoadBase, uint64(o.LoadBase)
	}
	end = uint64(o.LoadBase)
	for _, s := range o.File.LoadSegments() {
		end = max(end, uint64(o.LoadBase)+(s.End()-uint64(o.FileBase)))
	}
	return o.LoadBase, end
}

// Contains reports whether [addr, addr+size) lies inside the object's span.
func (o *Object) Contains(addr, size uint32) bool {
	start, end := o.Span()
	return addr >= start && uint64(addr)+uint64(size) <= end
}

// Process is an executable together with every shared object it pulled in,
// placed in one address space.
type Process struct {
	Executable *Object

	// objects is the load order: the executable, then shared objects in the
	// order they were discovered.
	objects []*Object
	// loaded holds the canonical path of every object in the process.
	loaded map[string]*Object

	mem     Memory
	cfg     Config
	logger  log.Logger
	metrics *Metrics
}

// Objects returns the executable followed by its dependencies in load order.
func (p *Process) Objects() []*Object {
	return p.objects
}

// Dependencies returns the shared objects in load order.
func (p *Process) Dependencies() []*Object {
	if len(p.objects) == 0 {
		return nil
	}
	return p.objects[1:]
}

// Object returns the loaded object with the given canonical path.
func (p *Process) Object(path string) (*Object, bool) {
	o, ok := p.loaded[canonicalPath(path)]
	return o, ok
}

func (p *Process) Memory() Memory {
	return p.mem
}

func (p *Process) add(o *Object) {
	p.objects = append(p.objects, o)
	p.loaded[o.Path] = o
}
