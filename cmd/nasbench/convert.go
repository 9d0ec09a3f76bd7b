package main

import (
	"context"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/janpfeifer/nasbench/internal/converter"
	"github.com/janpfeifer/nasbench/internal/ui/cli"
	"k8s.io/klog/v2"
)

func runConvert(ctx context.Context, args []string) error {
	fs := newFlagSet("convert", "Converts the verbose TFRecord dataset (e.g. nasbench_only108.tfrecord) to the compact format")
	flagInput := fs.String("input", "", "Verbose dataset file in TFRecord format.")
	flagOutput := fs.String("output", "", "Compact dataset file to create. An existing file is kept with a \"~\" suffix.")
	flagValidate := fs.Bool("validate_module_hash", false,
		"Fail if any record declares a module hash different from the computed one.")
	flagConfig := fs.String("config", "", "Conversion options, e.g. \"validate_hash,log_every=10000\".")
	must.M(fs.Parse(args))
	if *flagInput == "" || *flagOutput == "" {
		exceptions.Panicf("both -input and -output must be given")
	}
	if fs.NArg() > 0 {
		exceptions.Panicf("unexpected arguments %q", fs.Args())
	}

	opts, err := converter.OptionsFromConfig(*flagConfig)
	if err != nil {
		return err
	}
	opts.ValidateHash = opts.ValidateHash || *flagValidate
	done := withProgress(&opts, "converting")
	idx, err := converter.ConvertFile(ctx, *flagInput, *flagOutput, opts)
	done()
	if err != nil {
		return err
	}
	info := must.M1(os.Stat(*flagOutput))
	klog.Infof("Converted %q to %q", *flagInput, *flagOutput)
	cli.New(os.Stdout, *flagColor).PrintSummary(*flagOutput, idx.Summarize(), info.Size())
	return nil
}
