package loader

import (
	"flag"
	"testing"

	"github.com/grafana/dskit/flagext"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, uint(4096), cfg.PageSize)
	require.Equal(t, 16, cfg.MaxDependencyDepth)
	require.Equal(t, 64, cfg.FileCacheSize)
	require.False(t, cfg.StrictSymbols)
	require.NoError(t, cfg.Validate())
}

func TestConfigFlags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-loader.executable-base=0x400000",
		"-loader.search-paths=/lib,/usr/lib",
		"-loader.strict-symbols",
	}))
	require.Equal(t, uint64(0x400000), cfg.ExecutableBase)
	require.Equal(t, flagext.StringSliceCSV{"/lib", "/usr/lib"}, cfg.SearchPaths)
	require.True(t, cfg.StrictSymbols)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"page size", func(c *Config) { c.PageSize = 3000 }, "power of two"},
		{"zero page size", func(c *Config) { c.PageSize = 0 }, "power of two"},
		{"unaligned base", func(c *Config) { c.ExecutableBase = 0x400010 }, "page aligned"},
		{"base too large", func(c *Config) { c.LibraryBase = 1 << 33 }, "32 bits"},
		{"depth", func(c *Config) { c.MaxDependencyDepth = 0 }, "depth"},
		{"cache", func(c *Config) { c.FileCacheSize = -1 }, "cache size"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
