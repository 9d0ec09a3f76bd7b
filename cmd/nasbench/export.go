package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/janpfeifer/nasbench/internal/sqlexport"
	"k8s.io/klog/v2"
)

func runExport(ctx context.Context, args []string) error {
	fs := newFlagSet("export", "Exports a dataset to a SQLite database")
	flagDataset := fs.String("dataset", "", "Dataset file, compact or verbose.")
	flagConfig := fs.String("config", "", "Loading options, e.g. \"verify_compact_hashes\".")
	flagSQLite := fs.String("sqlite", "", "SQLite database file to create or update.")
	must.M(fs.Parse(args))
	if !sqlexport.Available {
		return sqlexport.ErrUnavailable
	}
	if *flagSQLite == "" {
		exceptions.Panicf("-sqlite must be given")
	}

	idx, err := loadDataset(ctx, *flagDataset, *flagConfig)
	if err != nil {
		return err
	}
	stats, err := sqlexport.Export(ctx, *flagSQLite, idx)
	if err != nil {
		return err
	}
	klog.Infof("Exported %s models and %s training runs to %q",
		humanize.Comma(int64(stats.NumModels)), humanize.Comma(int64(stats.NumEvaluations)), *flagSQLite)
	return nil
}
