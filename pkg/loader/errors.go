package loader

import (
	"github.com/pkg/errors"

	"github.com/grafana/elfld/pkg/elf32"
)

var (
	// ErrDependency fails a load when a needed shared object cannot be found,
	// opened or parsed, or the dependency chain is nested too deeply.
	ErrDependency = errors.New("dependency error")
	// ErrNotFound is returned by Process.Resolve. It wraps elf32.ErrLookup.
	ErrNotFound = errors.Wrap(elf32.ErrLookup, "symbol not found")
)
