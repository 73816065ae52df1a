package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	elfldcontext "github.com/grafana/elfld/pkg/elfld/context"
)

var cfg struct {
	verbose    bool
	configFile string
	expandEnv  bool
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Inspect and load 32-bit x86 ELF files.").UsageWriter(os.Stdout)
	app.Version(version.Print("elfld"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("config.file", "yaml file to load").StringVar(&cfg.configFile)
	app.Flag("config.expand-env", "Expands ${var} in config according to the values of the environment variables.").Default("false").BoolVar(&cfg.expandEnv)

	inspectCmd := app.Command("inspect", "Print the header, validation checks, sections and segments of a file.")
	inspectFiles := inspectCmd.Arg("file", "ELF file path").Required().ExistingFiles()

	symbolsCmd := app.Command("symbols", "List the symbols of a file.")
	symbolsParams := addSymbolsParams(symbolsCmd)

	neededCmd := app.Command("needed", "List the shared objects a file depends on.")
	neededFiles := neededCmd.Arg("file", "ELF file path").Required().ExistingFiles()

	loadCmd := app.Command("load", "Load an executable and its dependencies into a simulated address space.")
	loadParams := addLoadParams(loadCmd)

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx := elfldcontext.WithLogger(context.Background(), logger)
	ctx = elfldcontext.WithRegistry(ctx, prometheus.NewRegistry())
	ctx = withOutput(ctx, os.Stdout)

	switch parsedCmd {
	case inspectCmd.FullCommand():
		for _, file := range *inspectFiles {
			if err := inspect(ctx, file); err != nil {
				os.Exit(checkError(err))
			}
		}
	case symbolsCmd.FullCommand():
		if err := symbols(ctx, symbolsParams); err != nil {
			os.Exit(checkError(err))
		}
	case neededCmd.FullCommand():
		for _, file := range *neededFiles {
			if err := needed(ctx, file); err != nil {
				os.Exit(checkError(err))
			}
		}
	case loadCmd.FullCommand():
		if err := load(ctx, loadParams); err != nil {
			os.Exit(checkError(err))
		}
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	switch err {
	case nil:
		return 0
	case errChecksFailed:
		// The failed checks are already printed.
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
