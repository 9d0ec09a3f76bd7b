package main

import (
	"context"
	"os"

	"github.com/janpfeifer/must"
	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/ui/cli"
)

func runInfo(ctx context.Context, args []string) error {
	fs := newFlagSet("info", "Prints a summary of a dataset, or the details of one model")
	flagDataset := fs.String("dataset", "", "Dataset file, compact or verbose.")
	flagConfig := fs.String("config", "", "Loading options, e.g. \"verify_compact_hashes\".")
	flagHash := fs.String("hash", "", "If set, prints the model with the given hash, instead of the summary.")
	must.M(fs.Parse(args))

	idx, err := loadDataset(ctx, *flagDataset, *flagConfig)
	if err != nil {
		return err
	}
	ui := cli.New(os.Stdout, *flagColor)
	if *flagHash != "" {
		hash, err := cell.ParseHash(*flagHash)
		if err != nil {
			return err
		}
		m, err := idx.Model(hash)
		if err != nil {
			return err
		}
		ui.PrintModel(m)
		return nil
	}
	info := must.M1(os.Stat(*flagDataset))
	ui.PrintSummary(*flagDataset, idx.Summarize(), info.Size())
	return nil
}
