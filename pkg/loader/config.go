package loader

import (
	"flag"

	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
)

type Config struct {
	PageSize uint `yaml:"page_size"`
	// ExecutableBase relocates the executable; 0 keeps it at its file base.
	ExecutableBase uint64 `yaml:"executable_base"`
	// LibraryBase is where the first shared object goes; 0 places it on the
	// first page after the executable.
	LibraryBase        uint64                 `yaml:"library_base"`
	SearchPaths        flagext.StringSliceCSV `yaml:"search_paths"`
	MaxDependencyDepth int                    `yaml:"max_dependency_depth"`
	StrictSymbols      bool                   `yaml:"strict_symbols"`
	FileCacheSize      int                    `yaml:"file_cache_size"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.UintVar(&cfg.PageSize, "loader.page-size", 4096, "Page size used to align segment mappings. Must be a power of two.")
	f.Uint64Var(&cfg.ExecutableBase, "loader.executable-base", 0, "Load address of the executable. 0 keeps the address it was linked at.")
	f.Uint64Var(&cfg.LibraryBase, "loader.library-base", 0, "Load address of the first shared object. 0 places it after the executable.")
	f.Var(&cfg.SearchPaths, "loader.search-paths", "Comma separated directories searched for shared objects after the executable's directory.")
	f.IntVar(&cfg.MaxDependencyDepth, "loader.max-dependency-depth", 16, "Maximum nesting of shared object dependencies.")
	f.BoolVar(&cfg.StrictSymbols, "loader.strict-symbols", false, "Fail the load when a relocation references a symbol no object defines.")
	f.IntVar(&cfg.FileCacheSize, "loader.file-cache-size", 64, "Number of parsed files kept across loads. 0 disables the cache.")
}

// DefaultConfig returns the configuration with every flag default applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlags(flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

func (cfg *Config) Validate() error {
	if cfg.PageSize == 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return errors.Errorf("page size %d is not a power of two", cfg.PageSize)
	}
	if cfg.PageSize > 1<<30 {
		return errors.Errorf("page size %d is too large", cfg.PageSize)
	}
	if cfg.ExecutableBase > 0xffffffff {
		return errors.Errorf("executable base %#x does not fit in 32 bits", cfg.ExecutableBase)
	}
	if cfg.LibraryBase > 0xffffffff {
		return errors.Errorf("library base %#x does not fit in 32 bits", cfg.LibraryBase)
	}
	if cfg.ExecutableBase%uint64(cfg.PageSize) != 0 || cfg.LibraryBase%uint64(cfg.PageSize) != 0 {
		return errors.New("load bases must be page aligned")
	}
	if cfg.MaxDependencyDepth < 1 {
		return errors.Errorf("max dependency depth must be positive, got %d", cfg.MaxDependencyDepth)
	}
	if cfg.FileCacheSize < 0 {
		return errors.Errorf("file cache size must not be negative, got %d", cfg.FileCacheSize)
	}
	return nil
}
