package main

import (
	"context"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/nasbench/internal/converter"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/janpfeifer/nasbench/internal/ui/progress"
	"k8s.io/klog/v2"
)

// withProgress sets opts.WrapInput to display a progress bar, if -progress is set.
// The returned function must be called once reading is done.
func withProgress(opts *converter.Options, description string) (done func()) {
	if !*flagProgress {
		return func() {}
	}
	bar := progress.New(os.Stderr, description)
	opts.WrapInput = bar.Wrap
	return bar.Finish
}

// loadDataset loads the dataset in path, in either format.
func loadDataset(ctx context.Context, path, config string) (*dataset.Index, error) {
	if path == "" {
		exceptions.Panicf("-dataset must be given")
	}
	opts, err := converter.OptionsFromConfig(config)
	if err != nil {
		return nil, err
	}
	done := withProgress(&opts, "loading")
	idx, err := converter.Open(ctx, path, opts)
	done()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Loaded %d models from %q", idx.Len(), path)
	return idx, nil
}
