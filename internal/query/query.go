// Package query answers questions about the dataset: given a cell, an epoch budget and a
// sample, what were its training statistics.
package query

import (
	"context"
	"runtime"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DefaultEpochs is the epoch budget used when none is given, the one with most samples.
const DefaultEpochs = 108

// Request for the statistics of one training run of a cell.
type Request struct {
	// Ops names, one per vertex, and the Adjacency matrix encoded as the upper triangle or as
	// the full matrix, see cell.ParseAdjacency.
	Ops       []string
	Adjacency string

	Epochs      uint8
	SampleIndex int

	// Halfway selects the stats at the halfway checkpoint instead of at the end of training.
	Halfway bool
}

// Result of one request in a batch.
type Result struct {
	Stats dataset.EpochStats
	Err   error
}

// Engine answers queries over a read-only index. It is safe for concurrent use.
type Engine struct {
	index *dataset.Index
}

// New returns an Engine over the index.
func New(index *dataset.Index) *Engine {
	return &Engine{index: index}
}

// Index returns the index queried by the Engine.
func (e *Engine) Index() *dataset.Index {
	return e.index
}

// Model returns the dataset model of spec, which doesn't need to be pruned.
func (e *Engine) Model(spec *cell.ModelSpec) (*dataset.Model, error) {
	hash, err := spec.Hash()
	if err != nil {
		return nil, err
	}
	return e.index.Model(hash)
}

// Spec parses the cell of the request.
func (r Request) Spec() (*cell.ModelSpec, error) {
	return cell.Parse(r.Ops, r.Adjacency)
}

// Run answers one request. Errors wrap cell.ErrFormat or cell.ErrInvalidSpec for invalid cells,
// dataset.ErrUnknownModel, dataset.ErrUnknownEpochBudget or dataset.ErrSampleOutOfRange for
// statistics not in the dataset.
func (e *Engine) Run(req Request) (dataset.EpochStats, error) {
	spec, err := req.Spec()
	if err != nil {
		return dataset.EpochStats{}, err
	}
	m, err := e.Model(spec)
	if err != nil {
		return dataset.EpochStats{}, err
	}
	eval, err := m.Sample(req.Epochs, req.SampleIndex)
	if err != nil {
		return dataset.EpochStats{}, err
	}
	return eval.Select(req.Halfway), nil
}

// RunBatch answers the requests concurrently, with at most parallelism requests running at a
// time (if parallelism <= 0, the number of CPUs is used).
//
// Results are returned in the order of the requests, and an error in one request doesn't
// affect the others. The returned error is only set if ctx is done before all requests are
// answered.
func (e *Engine) RunBatch(ctx context.Context, requests []Request, parallelism int) ([]Result, error) {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	results := make([]Result, len(requests))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for ii, req := range requests {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			stats, err := e.Run(req)
			results[ii] = Result{Stats: stats, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrapf(err, "batch of %d queries interrupted", len(requests))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "batch of %d queries interrupted", len(requests))
	}
	klog.V(1).Infof("Answered %d queries with parallelism %d", len(requests), parallelism)
	return results, nil
}
