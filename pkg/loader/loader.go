package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/grafana/elfld/pkg/elf32"
)

// Loader loads executables and their shared objects into a Memory. It is safe
// to use from several goroutines as long as each load targets its own Memory.
type Loader struct {
	cfg      Config
	fs       afero.Fs
	logger   log.Logger
	metrics  *Metrics
	cache    *fileCache
	resolver LibraryResolver
}

func New(cfg Config, fs afero.Fs, logger log.Logger, reg prometheus.Registerer) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid loader config")
	}
	metrics := NewMetrics(reg)
	cache, err := newFileCache(cfg.FileCacheSize, metrics)
	if err != nil {
		return nil, err
	}
	return &Loader{
		cfg:      cfg,
		fs:       fs,
		logger:   logger,
		metrics:  metrics,
		cache:    cache,
		resolver: NewLibraryResolver(fs, cfg.SearchPaths),
	}, nil
}

// WithLibraryResolver replaces the resolver used for DT_NEEDED names.
func (l *Loader) WithLibraryResolver(r LibraryResolver) *Loader {
	l.resolver = r
	return l
}

// Open parses the file at path. Parsed files are shared through the cache
// while the file's size and modification time stay the same.
func (l *Loader) Open(path string) (*elf32.File, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	key := fileKey(path, fi)
	if ef, ok := l.cache.get(key); ok {
		return ef, nil
	}
	ef, err := elf32.Parse(f)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	l.cache.add(key, ef)
	return ef, nil
}

// Load places the executable at path and everything it needs into mem and
// applies their relocations. A dependency that cannot be loaded fails the
// whole load with ErrDependency before any relocation is applied.
func (l *Loader) Load(ctx context.Context, path string, mem Memory) (*Process, error) {
	start := time.Now()
	defer func() {
		l.metrics.LoadDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	path = canonicalPath(path)
	f, err := l.Open(path)
	if err != nil {
		return nil, err
	}
	p := &Process{
		loaded:  make(map[string]*Object),
		mem:     mem,
		cfg:     l.cfg,
		logger:  l.logger,
		metrics: l.metrics,
	}
	exe := newObject(path, f, KindExecutable, 0)
	base := l.cfg.ExecutableBase
	if base == 0 && exe.FileBase != elf32.NoBaseAddress {
		base = alignDown(uint64(exe.FileBase), uint64(l.cfg.PageSize))
	}
	if err := l.placeAt(p, exe, base); err != nil {
		return nil, err
	}
	p.Executable = exe

	next := l.cfg.LibraryBase
	if next == 0 {
		_, end := exe.Span()
		next = alignUp(end, uint64(l.cfg.PageSize))
	}
	if f.IsDynamic() {
		if err := l.loadDependencies(ctx, p, exe, filepath.Dir(path), &next); err != nil {
			return nil, err
		}
		exe.state = StateDependenciesLoaded
	}

	if err := p.Relocate(ctx); err != nil {
		return nil, errors.WithMessagef(err, "relocate %s", path)
	}
	for _, o := range p.objects {
		o.state = StateReady
	}
	level.Debug(l.logger).Log("msg", "process loaded", "path", path, "objects", len(p.objects), "entry", fmt.Sprintf("%#x", exe.Entry()))
	return p, nil
}

// placeAt sets the load base so that o's lowest Load segment keeps its page
// offset at base, then places the segments.
func (l *Loader) placeAt(p *Process, o *Object, base uint64) error {
	if o.FileBase != elf32.NoBaseAddress {
		base += uint64(o.FileBase) % uint64(l.cfg.PageSize)
	}
	if base > 0xffffffff {
		return errors.Errorf("%s: load base %#x does not fit in the address space", o.Path, base)
	}
	o.LoadBase = uint32(base)
	if other := p.overlapping(o); other != nil {
		return errors.Errorf("%s at %#x overlaps %s", o.Path, o.LoadBase, other.Path)
	}
	p.add(o)
	if err := p.place(o); err != nil {
		return err
	}
	l.metrics.ObjectsLoaded.WithLabelValues(o.Kind.String()).Inc()
	return nil
}

// loadDependencies walks o's DT_NEEDED entries depth first. Objects already
// in the process satisfy a dependency without being loaded again, which also
// breaks cycles. next is where the next shared object goes.
func (l *Loader) loadDependencies(ctx context.Context, p *Process, o *Object, exeDir string, next *uint64) error {
	needed, err := o.File.Needed()
	if err != nil {
		l.metrics.DependencyErrors.WithLabelValues("dynamic_section").Inc()
		return errors.Wrapf(ErrDependency, "%s: reading needed libraries: %v", o.Path, err)
	}
	for _, name := range needed {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := l.resolver.ResolveLibrary(name, exeDir)
		if err != nil {
			l.metrics.DependencyErrors.WithLabelValues("not_found").Inc()
			return errors.Wrapf(ErrDependency, "%s needed by %s: %v", name, o.Path, err)
		}
		if dep, ok := p.loaded[path]; ok {
			o.Deps = append(o.Deps, dep)
			continue
		}
		if o.depth+1 > l.cfg.MaxDependencyDepth {
			l.metrics.DependencyErrors.WithLabelValues("too_deep").Inc()
			return errors.Wrapf(ErrDependency, "%s needed by %s: nested deeper than %d", name, o.Path, l.cfg.MaxDependencyDepth)
		}
		f, err := l.Open(path)
		if err != nil {
			l.metrics.DependencyErrors.WithLabelValues("invalid").Inc()
			return errors.Wrapf(ErrDependency, "%s needed by %s: %v", name, o.Path, err)
		}

		dep := newObject(path, f, KindSharedObject, o.depth+1)
		if err := l.placeAt(p, dep, *next); err != nil {
			return err
		}
		_, end := dep.Span()
		*next = alignUp(end, uint64(l.cfg.PageSize))
		o.Deps = append(o.Deps, dep)
		level.Debug(l.logger).Log("msg", "loaded dependency", "name", name, "path", path, "needed_by", o.Path, "base", fmt.Sprintf("%#x", dep.LoadBase))

		if f.IsDynamic() {
			if err := l.loadDependencies(ctx, p, dep, exeDir, next); err != nil {
				return err
			}
			dep.state = StateDependenciesLoaded
		}
	}
	return nil
}

// CachedFiles is the number of parsed files currently cached.
func (l *Loader) CachedFiles() int {
	return l.cache.len()
}
