package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/query"
	"github.com/janpfeifer/nasbench/internal/ui/cli"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func runQuery(ctx context.Context, args []string) error {
	fs := newFlagSet("query", "Prints the training statistics of a cell")
	flagDataset := fs.String("dataset", "", "Dataset file, compact or verbose.")
	flagConfig := fs.String("config", "", "Loading options, e.g. \"verify_compact_hashes\".")
	flagOps := fs.String("ops", "", "Comma separated ops of the cell, starting with \"input\" and ending with \"output\".")
	flagAdjacency := fs.String("adjacency", "",
		"Adjacency matrix of the cell: the upper triangle bits row by row (e.g. \"101\" for 3 vertices), or the full V*V bits.")
	flagEpochs := fs.Int("epochs", query.DefaultEpochs, "Epoch budget of the training run.")
	flagSample := fs.Int("sample_index", 0, "Which training run (sample) of the cell.")
	flagHalfway := fs.Bool("stop_halfway", false, "Print the statistics at the halfway checkpoint, instead of the end of training.")
	flagAll := fs.Bool("all_samples", false, "Print all samples of the cell at the epoch budget, and their mean.")
	flagBatch := fs.String("batch", "",
		"File with one query per line: \"<ops> <adjacency> [epochs [sample_index]]\". Use \"-\" for stdin.")
	flagParallelism := fs.Int("parallelism", 0, "Number of batch queries answered in parallel. Defaults to the number of CPUs.")
	must.M(fs.Parse(args))
	if *flagEpochs < 1 || *flagEpochs > 255 {
		exceptions.Panicf("invalid -epochs=%d, it must be between 1 and 255", *flagEpochs)
	}
	if *flagBatch != "" && (*flagOps != "" || *flagAll) {
		exceptions.Panicf("-batch cannot be used with -ops or -all_samples")
	}
	if *flagBatch == "" && (*flagOps == "" || *flagAdjacency == "") {
		exceptions.Panicf("-ops and -adjacency must be given (or -batch)")
	}

	idx, err := loadDataset(ctx, *flagDataset, *flagConfig)
	if err != nil {
		return err
	}
	engine := query.New(idx)
	ui := cli.New(os.Stdout, *flagColor)

	if *flagBatch != "" {
		requests, err := readBatch(*flagBatch, uint8(*flagEpochs), *flagHalfway)
		if err != nil {
			return err
		}
		return runBatch(ctx, engine, requests, *flagParallelism)
	}

	req := query.Request{
		Ops:         strings.Split(*flagOps, ","),
		Adjacency:   *flagAdjacency,
		Epochs:      uint8(*flagEpochs),
		SampleIndex: *flagSample,
		Halfway:     *flagHalfway,
	}
	if *flagAll {
		spec, err := req.Spec()
		if err != nil {
			return err
		}
		m, err := engine.Model(spec)
		if err != nil {
			return err
		}
		ui.PrintModel(m)
		return ui.PrintSamples(m, req.Epochs, req.Halfway)
	}
	stats, err := engine.Run(req)
	if err != nil {
		return err
	}
	checkpoint := "complete"
	if req.Halfway {
		checkpoint = "halfway"
	}
	ui.PrintTitle(fmt.Sprintf("%d epochs, sample #%d, %s", req.Epochs, req.SampleIndex, checkpoint))
	ui.PrintStats(stats)
	return nil
}

// readBatch reads the requests of a batch file, or stdin if path is "-".
func readBatch(path string, defaultEpochs uint8, halfway bool) ([]query.Request, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open batch file %q", path)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	requests, err := parseBatch(r, defaultEpochs, halfway)
	if err != nil {
		return nil, errors.WithMessagef(err, "in batch file %q", path)
	}
	return requests, nil
}

// parseBatch parses one request per line. Empty lines and lines starting with "#" are skipped.
func parseBatch(r io.Reader, defaultEpochs uint8, halfway bool) ([]query.Request, error) {
	var requests []query.Request
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 4 {
			return nil, errors.Wrapf(cell.ErrFormat, "line %d: expected \"<ops> <adjacency> [epochs [sample_index]]\", got %q", lineNum, line)
		}
		req := query.Request{
			Ops:       strings.Split(fields[0], ","),
			Adjacency: fields[1],
			Epochs:    defaultEpochs,
			Halfway:   halfway,
		}
		if len(fields) > 2 {
			epochs, err := strconv.ParseUint(fields[2], 10, 8)
			if err != nil || epochs == 0 {
				return nil, errors.Wrapf(cell.ErrFormat, "line %d: invalid epochs %q", lineNum, fields[2])
			}
			req.Epochs = uint8(epochs)
		}
		if len(fields) > 3 {
			sample, err := strconv.Atoi(fields[3])
			if err != nil {
				return nil, errors.Wrapf(cell.ErrFormat, "line %d: invalid sample index %q", lineNum, fields[3])
			}
			req.SampleIndex = sample
		}
		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read batch")
	}
	return requests, nil
}

// runBatch answers the requests and prints one tab separated line per request, in order.
func runBatch(ctx context.Context, engine *query.Engine, requests []query.Request, parallelism int) error {
	results, err := engine.RunBatch(ctx, requests, parallelism)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(os.Stdout)
	_, _ = fmt.Fprintln(w, "ops\tadjacency\tepochs\tsample\ttraining_time\ttrain_accuracy\tvalidation_accuracy\ttest_accuracy\terror")
	numFailed := 0
	for ii, res := range results {
		req := requests[ii]
		errMsg := ""
		if res.Err != nil {
			numFailed++
			errMsg = res.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.6f\t%.6f\t%.6f\t%s\n",
			strings.Join(req.Ops, ","), req.Adjacency, req.Epochs, req.SampleIndex,
			res.Stats.TrainingTime, res.Stats.TrainAccuracy, res.Stats.ValidationAccuracy, res.Stats.TestAccuracy, errMsg)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "failed to write results")
	}
	if numFailed > 0 {
		klog.Warningf("%d of %d queries failed", numFailed, len(requests))
	}
	return nil
}
