package elfld

import (
	"context"
	"debug/elf"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/grafana/dskit/flagext"

	"github.com/grafana/elfld/pkg/elf32/testhelper"
	elfldcontext "github.com/grafana/elfld/pkg/elfld/context"
	"github.com/grafana/elfld/pkg/loader"
	"github.com/grafana/elfld/pkg/test"
)

func TestLoadConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv("ELFLD_LIB_DIR", "/opt/lib")
	require.NoError(t, afero.WriteFile(fs, "/etc/elfld.yaml", []byte(`
log_level: debug
loader:
  executable_base: 0x400000
  search_paths: ${ELFLD_LIB_DIR},/usr/lib
  strict_symbols: true
`), 0o644))

	cfg, err := LoadConfig(fs, "/etc/elfld.yaml", true)
	require.NoError(t, err)

	want := loader.DefaultConfig()
	want.ExecutableBase = 0x400000
	want.SearchPaths = flagext.StringSliceCSV{"/opt/lib", "/usr/lib"}
	want.StrictSymbols = true
	require.Empty(t, cmp.Diff(want, cfg.Loader))
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/etc/elfld.yaml", cfg.ConfigFile)
}

func TestLoadConfigErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/unknown.yaml", []byte("loader:\n  stack_size: 10\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/invalid.yaml", []byte("loader:\n  page_size: 1000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/level.yaml", []byte("log_level: loud\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/empty.yaml", nil, 0o644))

	_, err := LoadConfig(fs, "/unknown.yaml", false)
	require.ErrorContains(t, err, "stack_size")
	_, err = LoadConfig(fs, "/invalid.yaml", false)
	require.ErrorContains(t, err, "power of two")
	_, err = LoadConfig(fs, "/level.yaml", false)
	require.ErrorContains(t, err, "loud")
	_, err = LoadConfig(fs, "/missing.yaml", false)
	require.Error(t, err)

	cfg, err := LoadConfig(fs, "/empty.yaml", false)
	require.NoError(t, err)
	require.Equal(t, loader.DefaultConfig(), cfg.Loader)

	cfg, err = LoadConfig(fs, "", false)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestElfldLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := testhelper.New(elf.ET_EXEC).WithEntry(0x1000)
	b.Load(0x1000, elf.PF_R|elf.PF_X, []byte{0xc3})
	require.NoError(t, afero.WriteFile(fs, "/bin/app", b.Bytes(), 0o755))

	reg := prometheus.NewRegistry()
	ctx := elfldcontext.WithFs(context.Background(), fs)
	ctx = elfldcontext.WithRegistry(ctx, reg)
	ctx = elfldcontext.WithLogger(ctx, test.NewTestingLogger(t))

	cfg, err := LoadConfig(fs, "", false)
	require.NoError(t, err)
	e, err := New(ctx, *cfg)
	require.NoError(t, err)

	f, err := e.Open("/bin/app")
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), f.BaseAddress())

	p, mem, err := e.Load(ctx, "/bin/app")
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), p.Executable.Entry())
	require.Equal(t, uint64(0x1000), mem.Mapped())

	_, _, err = e.Load(ctx, "/bin/missing")
	require.ErrorContains(t, err, "/bin/missing")

	n, err := testutil.GatherAndCount(reg, "elfld_loader_objects_loaded_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestElfldWithoutRegistry(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := testhelper.New(elf.ET_EXEC)
	b.Load(0x1000, elf.PF_R, []byte{1})
	require.NoError(t, afero.WriteFile(fs, "/bin/app", b.Bytes(), 0o755))

	ctx := elfldcontext.WithFs(context.Background(), fs)
	require.Nil(t, elfldcontext.Registry(ctx))

	cfg, err := LoadConfig(fs, "", false)
	require.NoError(t, err)
	e, err := New(ctx, *cfg)
	require.NoError(t, err)
	_, _, err = e.Load(ctx, "/bin/app")
	require.NoError(t, err)
}
