package main

import (
	"context"
	"debug/elf"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"

	"github.com/grafana/elfld/pkg/elf32"
	elfldcontext "github.com/grafana/elfld/pkg/elfld/context"
)

var errChecksFailed = errors.New("validation checks failed")

type headerCheck struct {
	name string
	ok   func(*elf32.Header) bool
}

var headerChecks = []headerCheck{
	{"signature", (*elf32.Header).SignatureOK},
	{"class", (*elf32.Header).ClassOK},
	{"encoding", (*elf32.Header).EncodingOK},
	{"type", (*elf32.Header).TypeOK},
	{"machine", (*elf32.Header).MachineOK},
}

func openFile(ctx context.Context, path string) (*elf32.File, error) {
	f, err := elfldcontext.Fs(ctx).Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ef, err := elf32.Parse(f)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return ef, nil
}

func readHeader(ctx context.Context, path string) (*elf32.Header, error) {
	f, err := elfldcontext.Fs(ctx).Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, elf32.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.Wrapf(elf32.ErrFormat, "%s: %v", path, err)
	}
	return elf32.ParseHeader(buf)
}

func inspect(ctx context.Context, path string) error {
	out := output(ctx)
	h, err := readHeader(ctx, path)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "file:", path)
	fmt.Fprintln(out, "\t Type:", h.Type)
	fmt.Fprintln(out, "\t Machine:", h.Machine)
	fmt.Fprintf(out, "\t Entry: %#08x\n", h.Entry)
	fmt.Fprintln(out, "\t Program headers:", h.ProgHeaderNumEntries, "at offset", h.ProgHeaderTableOffset)
	fmt.Fprintln(out, "\t Section headers:", h.SecHeaderNumEntries, "at offset", h.SecHeaderTableOffset)
	fmt.Fprintln(out, "\t Checks:")
	failed := false
	for _, c := range headerChecks {
		status := color.GreenString("ok")
		if !c.ok(h) {
			status = color.RedString("fail")
			failed = true
		}
		fmt.Fprintf(out, "\t\t %-10s %s\n", c.name, status)
	}
	if failed {
		return errChecksFailed
	}

	f, err := openFile(ctx, path)
	if err != nil {
		return err
	}
	if interp, ok := f.Interp(); ok {
		fmt.Fprintln(out, "\t Interpreter:", interp)
	}
	if base := f.BaseAddress(); base != elf32.NoBaseAddress {
		fmt.Fprintf(out, "\t Base address: %#08x\n", base)
	}

	fmt.Fprintln(out, "\t Sections:")
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Idx", "Name", "Type", "Flags", "Addr", "Offset", "Size"})
	for _, s := range f.Sections {
		hdr := s.Header()
		table.Append([]string{
			fmt.Sprintf("%d", s.Index()),
			s.Name(),
			hdr.Type.String(),
			sectionFlags(hdr.Flags),
			fmt.Sprintf("%#08x", hdr.Addr),
			fmt.Sprintf("%#x", hdr.Offset),
			humanize.Bytes(uint64(hdr.Size)),
		})
	}
	table.Render()

	fmt.Fprintln(out, "\t Segments:")
	table = tablewriter.NewWriter(out)
	table.SetHeader([]string{"Type", "Vaddr", "Offset", "FileSize", "MemSize", "Perm", "Align"})
	for _, s := range f.Segments {
		table.Append([]string{
			s.Type.String(),
			fmt.Sprintf("%#08x", s.Vaddr),
			fmt.Sprintf("%#x", s.Offset),
			humanize.Bytes(uint64(s.FileSize)),
			humanize.Bytes(uint64(s.MemSize)),
			permString(s.Flags),
			fmt.Sprintf("%#x", s.Align),
		})
	}
	table.Render()
	return nil
}

func sectionFlags(f elf.SectionFlag) string {
	b := []byte("---")
	if f&elf.SHF_WRITE != 0 {
		b[0] = 'W'
	}
	if f&elf.SHF_ALLOC != 0 {
		b[1] = 'A'
	}
	if f&elf.SHF_EXECINSTR != 0 {
		b[2] = 'X'
	}
	return string(b)
}

func permString(f elf.ProgFlag) string {
	b := []byte("---")
	if f&elf.PF_R != 0 {
		b[0] = 'r'
	}
	if f&elf.PF_W != 0 {
		b[1] = 'w'
	}
	if f&elf.PF_X != 0 {
		b[2] = 'x'
	}
	return string(b)
}
