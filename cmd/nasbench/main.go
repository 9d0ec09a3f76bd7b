// nasbench converts, queries and inspects the NAS-Bench-101 dataset.
//
// Usage:
//
//	nasbench [global flags] <command> [command flags]
//
// Commands: convert, query, info and export. Run `nasbench <command> -h` for the flags of
// each command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/janpfeifer/nasbench/internal/profilers"
	"github.com/janpfeifer/nasbench/internal/ui/cli"
	"github.com/janpfeifer/nasbench/internal/ui/progress"
	"k8s.io/klog/v2"
)

var (
	flagColor    = flag.Bool("color", cli.IsTerminal(os.Stdout), "Use colors in the output.")
	flagProgress = flag.Bool("progress", cli.IsTerminal(os.Stderr), "Display a progress bar while reading datasets.")
)

// command is one of the sub-commands of nasbench.
type command struct {
	name, usage string
	run         func(ctx context.Context, args []string) error
}

var commands = []command{
	{"convert", "converts the verbose TFRecord dataset to the compact format", runConvert},
	{"query", "prints the training statistics of a cell", runQuery},
	{"info", "prints a summary of a dataset, or the details of one model", runInfo},
	{"export", "exports a dataset to a SQLite database (requires build tag sqlite)", runExport},
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [global flags] <command> [command flags]\n\nCommands:\n", os.Args[0])
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(out, "  %-10s %s\n", cmd.name, cmd.usage)
	}
	_, _ = fmt.Fprintf(out, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	var cmd *command
	for ii := range commands {
		if commands[ii].name == name {
			cmd = &commands[ii]
		}
	}
	if cmd == nil {
		klog.Errorf("Unknown command %q", name)
		usage()
		os.Exit(2)
	}

	// Capture Control+C
	ctx, cancel := context.WithCancel(context.Background())
	progress.SafeInterrupt(cancel, 3*time.Second)
	defer cancel()

	profilers.Setup(ctx)
	err := cmd.run(ctx, flag.Args()[1:])
	profilers.OnQuit()
	if err != nil {
		progress.Reset()
		klog.Exitf("%s failed: %+v", name, err)
	}
}

// newFlagSet for a sub-command. It exits on parsing errors.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "Usage: %s [global flags] %s [flags]\n\n%s.\n\nFlags:\n", os.Args[0], name, usage)
		fs.PrintDefaults()
	}
	return fs
}
