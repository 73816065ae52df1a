package main

import (
	"context"
	"debug/elf"
	"fmt"

	"github.com/ianlancetaylor/demangle"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/alecthomas/kingpin.v2"
)

type symbolsParams struct {
	path     string
	dynamic  bool
	demangle bool
}

func addSymbolsParams(cmd *kingpin.CmdClause) *symbolsParams {
	params := &symbolsParams{}
	cmd.Arg("file", "ELF file path").Required().ExistingFileVar(&params.path)
	cmd.Flag("dynamic", "List the dynamic symbol table instead of the static one.").Default("false").BoolVar(&params.dynamic)
	cmd.Flag("demangle", "Demangle C++ symbol names.").Default("false").BoolVar(&params.demangle)
	return params
}

func symbols(ctx context.Context, params *symbolsParams) error {
	f, err := openFile(ctx, params.path)
	if err != nil {
		return err
	}
	out := output(ctx)
	for _, tab := range f.SymbolTables() {
		if tab.IsDynamic() != params.dynamic {
			continue
		}
		strs, err := f.Strings(tab)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d entries\n", tab.Name(), tab.Len())
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Num", "Value", "Size", "Type", "Bind", "Ndx", "Name"})
		table.SetAutoWrapText(false)
		for i, sym := range tab.Symbols() {
			name := strs.Get(sym.NameIndex)
			if params.demangle {
				name = demangle.Filter(name)
			}
			table.Append([]string{
				fmt.Sprintf("%d", i),
				fmt.Sprintf("%#08x", sym.Value),
				fmt.Sprintf("%d", sym.Size),
				sym.Type().String(),
				sym.Binding().String(),
				sectionIndex(sym.SectionIndex),
				name,
			})
		}
		table.Render()
	}
	return nil
}

func sectionIndex(idx uint16) string {
	switch elf.SectionIndex(idx) {
	case elf.SHN_UNDEF:
		return "UND"
	case elf.SHN_ABS:
		return "ABS"
	case elf.SHN_COMMON:
		return "COM"
	}
	return fmt.Sprintf("%d", idx)
}
