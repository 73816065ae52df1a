package elfld

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/elfld/pkg/elf32"
	elfldcontext "github.com/grafana/elfld/pkg/elfld/context"
	"github.com/grafana/elfld/pkg/loader"
	"github.com/grafana/elfld/pkg/procmem"
)

// Elfld is a configured loader bound to the logger, registry and filesystem
// carried by the context it was created with.
type Elfld struct {
	Cfg Config

	logger log.Logger
	loader *loader.Loader
}

func New(ctx context.Context, cfg Config) (*Elfld, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := level.Parse(cfg.LogLevel)
	logger := level.NewFilter(elfldcontext.Logger(ctx), level.Allow(lvl))
	l, err := loader.New(cfg.Loader, elfldcontext.Fs(ctx), logger, elfldcontext.Registry(ctx))
	if err != nil {
		return nil, err
	}
	return &Elfld{
		Cfg:    cfg,
		logger: logger,
		loader: l,
	}, nil
}

// Open parses a file without loading it.
func (e *Elfld) Open(path string) (*elf32.File, error) {
	return e.loader.Open(path)
}

// Load loads the executable at path into a fresh address space.
func (e *Elfld) Load(ctx context.Context, path string) (*loader.Process, *procmem.Memory, error) {
	mem := procmem.New(uint32(e.Cfg.Loader.PageSize))
	p, err := e.loader.Load(ctx, path, mem)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "load %s", path)
	}
	level.Info(e.logger).Log("msg", "loaded", "path", path, "objects", len(p.Objects()), "mapped_bytes", mem.Mapped())
	return p, mem, nil
}
