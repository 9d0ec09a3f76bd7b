// Package converter builds a dataset Index from a verbose source, and loads and saves datasets
// in files.
//
// Converting validates every cell, prunes it and computes its canonical hash, merging all the
// training runs of isomorphic cells into one model.
package converter

import (
	"context"
	"io"
	"strings"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/janpfeifer/nasbench/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrHashMismatch is returned when hash validation is enabled and a record declares a hash
// different from the canonical hash of its cell.
var ErrHashMismatch = errors.New("declared module hash differs from computed hash")

type (
	// Record is one row of the verbose source.
	Record = dataset.Record

	// RecordProducer yields the rows of the verbose source, see tfrecord.Reader.
	RecordProducer = dataset.RecordProducer
)

// Options for conversion and loading.
type Options struct {
	// ValidateHash makes the conversion fail on the first record whose declared hash differs
	// from the computed one. Config key "validate_hash".
	ValidateHash bool

	// VerifyCompactHashes recomputes the hash of every model when loading a compact file.
	// Config key "verify_compact_hashes".
	VerifyCompactHashes bool

	// LogEvery logs progress every that many records, at verbosity 1. 0 disables it.
	// Config key "log_every".
	LogEvery int

	// WrapInput, if set, wraps the input file reader, e.g. to display progress.
	WrapInput func(r io.Reader, size int64) io.Reader
}

// DefaultOptions used if no configuration is given.
func DefaultOptions() Options {
	return Options{LogEvery: 100_000}
}

// OptionsFromParams parses the options from the configuration params. Known keys are popped
// from params, and any unknown key left is an error.
func OptionsFromParams(params parameters.Params) (opts Options, err error) {
	opts = DefaultOptions()
	if opts.ValidateHash, err = parameters.PopParamOr(params, "validate_hash", opts.ValidateHash); err != nil {
		return
	}
	if opts.VerifyCompactHashes, err = parameters.PopParamOr(params, "verify_compact_hashes", opts.VerifyCompactHashes); err != nil {
		return
	}
	if opts.LogEvery, err = parameters.PopParamOr(params, "log_every", opts.LogEvery); err != nil {
		return
	}
	if opts.LogEvery < 0 {
		err = errors.Errorf("invalid log_every=%d, it must be >= 0", opts.LogEvery)
		return
	}
	err = parameters.CheckAllUsed(params)
	return
}

// OptionsFromConfig parses a configuration string like "validate_hash,log_every=1000".
func OptionsFromConfig(config string) (Options, error) {
	return OptionsFromParams(parameters.NewFromConfigString(config))
}

// resolvedCell caches the pruning and hashing of a cell: the same cell appears once per
// epoch budget and per sample in the verbose source.
type resolvedCell struct {
	spec *cell.ModelSpec
	hash cell.Hash
}

// cellKey identifies a parsed cell, before pruning. Op names never contain commas.
type cellKey struct {
	ops    string
	matrix cell.Matrix
}

func resolve(spec *cell.ModelSpec) (resolvedCell, error) {
	pruned, err := spec.Prune()
	if err != nil {
		return resolvedCell{}, err
	}
	hash, err := pruned.Hash()
	if err != nil {
		return resolvedCell{}, err
	}
	return resolvedCell{spec: pruned, hash: hash}, nil
}

// Convert reads all records from producer and builds the Index.
//
// Any invalid record aborts the conversion, and no Index is returned. The context is checked
// between records.
func Convert(ctx context.Context, producer RecordProducer, opts Options) (*dataset.Index, error) {
	builder := dataset.NewBuilder()
	cache := make(map[cellKey]resolvedCell)
	var numMismatches int
	recordIdx := 0
	for ; ; recordIdx++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "conversion interrupted at record #%d", recordIdx)
		}
		rec, err := producer.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read record #%d", recordIdx)
		}

		spec, err := cell.Parse(rec.Ops, rec.Adjacency)
		if err != nil {
			return nil, errors.WithMessagef(err, "record #%d (declared hash %q)", recordIdx, rec.DeclaredHash)
		}
		key := cellKey{ops: cell.OpsString(spec.Ops()), matrix: spec.Matrix()}
		resolved, found := cache[key]
		if !found {
			resolved, err = resolve(spec)
			if err != nil {
				return nil, errors.WithMessagef(err, "record #%d (declared hash %q)", recordIdx, rec.DeclaredHash)
			}
			cache[key] = resolved
		}

		if declared := strings.ToLower(rec.DeclaredHash); declared != resolved.hash.String() {
			if opts.ValidateHash {
				return nil, errors.Wrapf(ErrHashMismatch, "record #%d: declared %q, computed %s for %s",
					recordIdx, rec.DeclaredHash, resolved.hash, resolved.spec)
			}
			numMismatches++
			klog.Warningf("Record #%d: declared hash %q differs from computed %s, using the computed one",
				recordIdx, rec.DeclaredHash, resolved.hash)
		}

		err = builder.Add(resolved.hash, resolved.spec, rec.TrainableParameters, rec.Epochs, rec.Evaluation)
		if err != nil {
			return nil, errors.WithMessagef(err, "record #%d", recordIdx)
		}
		if opts.LogEvery > 0 && (recordIdx+1)%opts.LogEvery == 0 {
			klog.V(1).Infof("Converted %d records, %d models so far", recordIdx+1, builder.Len())
		}
	}
	if numMismatches > 0 {
		klog.Warningf("%d records declared a hash different from the computed one", numMismatches)
	}
	klog.V(1).Infof("Converted %d records into %d models", recordIdx, builder.Len())
	return builder.Build()
}
