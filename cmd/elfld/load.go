package main

import (
	"context"
	"debug/elf"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/samber/lo"
	"github.com/xlab/treeprint"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/elfld/pkg/elfld"
	elfldcontext "github.com/grafana/elfld/pkg/elfld/context"
	"github.com/grafana/elfld/pkg/loader"
)

type loadParams struct {
	path        string
	base        uint64
	libraryBase uint64
	searchPaths []string
	resolve     []string
	strict      bool
	metrics     bool
}

func addLoadParams(cmd *kingpin.CmdClause) *loadParams {
	params := &loadParams{}
	cmd.Arg("executable", "Executable to load").Required().ExistingFileVar(&params.path)
	cmd.Flag("base", "Load address of the executable. 0 keeps its link address.").Default("0").Uint64Var(&params.base)
	cmd.Flag("library-base", "Load address of the first shared object. 0 places it after the executable.").Default("0").Uint64Var(&params.libraryBase)
	cmd.Flag("search-path", "Directory searched for shared objects after the executable's own. Can be repeated.").StringsVar(&params.searchPaths)
	cmd.Flag("resolve", "Symbol to resolve after loading. Can be repeated.").StringsVar(&params.resolve)
	cmd.Flag("strict", "Fail when a relocation refers to a symbol no object defines.").Default("false").BoolVar(&params.strict)
	cmd.Flag("metrics", "Print the loader metrics after loading.").Default("false").BoolVar(&params.metrics)
	return params
}

func loadConfig(ctx context.Context, params *loadParams) (*elfld.Config, error) {
	c, err := elfld.LoadConfig(elfldcontext.Fs(ctx), cfg.configFile, cfg.expandEnv)
	if err != nil {
		return nil, err
	}
	if params.base != 0 {
		c.Loader.ExecutableBase = params.base
	}
	if params.libraryBase != 0 {
		c.Loader.LibraryBase = params.libraryBase
	}
	c.Loader.SearchPaths = append(c.Loader.SearchPaths, params.searchPaths...)
	c.Loader.StrictSymbols = c.Loader.StrictSymbols || params.strict
	if cfg.verbose {
		c.LogLevel = "debug"
	}
	return c, c.Validate()
}

func load(ctx context.Context, params *loadParams) error {
	c, err := loadConfig(ctx, params)
	if err != nil {
		return err
	}
	e, err := elfld.New(ctx, *c)
	if err != nil {
		return err
	}
	p, mem, err := e.Load(ctx, params.path)
	if err != nil {
		return err
	}

	out := output(ctx)
	fmt.Fprintf(out, "entry: %#08x\n", p.Executable.Entry())
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Object", "Kind", "Base", "End", "State", "Needed"})
	for _, o := range p.Objects() {
		start, end := o.Span()
		deps := lo.Map(o.Deps, func(d *loader.Object, _ int) string { return d.Name() })
		table.Append([]string{
			o.Path,
			o.Kind.String(),
			fmt.Sprintf("%#08x", start),
			fmt.Sprintf("%#08x", end),
			o.State().String(),
			strings.Join(deps, ","),
		})
	}
	table.Render()
	fmt.Fprint(out, dependencyTree(p))

	fmt.Fprintf(out, "mapped: %s\n", humanize.IBytes(mem.Mapped()))
	for _, r := range mem.Regions() {
		fmt.Fprintf(out, "\t %#08x-%#08x %s\n", r.Start, r.End(), permString(r.Perm))
	}

	for _, name := range params.resolve {
		res, err := p.Resolve(elf.STT_NOTYPE, name)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%s: %#08x size=%d in %s\n", name, res.Address, res.Size, res.Object.Name())
	}

	if params.metrics {
		return printMetrics(ctx)
	}
	return nil
}

// dependencyTree renders the DT_NEEDED graph. An object is expanded the first
// time it appears, later occurrences are leaves.
func dependencyTree(p *loader.Process) string {
	tree := treeprint.NewWithRoot(p.Executable.Name())
	expanded := map[*loader.Object]bool{p.Executable: true}
	var walk func(t treeprint.Tree, o *loader.Object)
	walk = func(t treeprint.Tree, o *loader.Object) {
		for _, d := range o.Deps {
			base := fmt.Sprintf("%#08x", d.LoadBase)
			if expanded[d] || len(d.Deps) == 0 {
				t.AddMetaNode(base, d.Name())
				continue
			}
			expanded[d] = true
			walk(t.AddMetaBranch(base, d.Name()), d)
		}
	}
	walk(tree, p.Executable)
	return tree.String()
}

func printMetrics(ctx context.Context) error {
	g, ok := elfldcontext.Registry(ctx).(prometheus.Gatherer)
	if !ok {
		return nil
	}
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(output(ctx), expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
