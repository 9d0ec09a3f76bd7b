package dataset

import (
	"slices"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/generics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrBuilderSpent is returned when a Builder is used after Build.
var ErrBuilderSpent = errors.New("dataset builder already built")

// Builder accumulates models and their statistics, and then creates the read-only Index.
//
// It is not safe for concurrent use.
type Builder struct {
	models map[cell.Hash]*Model
	spent  bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{models: make(map[cell.Hash]*Model)}
}

// Len returns the number of models added so far.
func (b *Builder) Len() int {
	return len(b.models)
}

// Has returns whether a model with the given hash was already added.
func (b *Builder) Has(hash cell.Hash) bool {
	_, found := b.models[hash]
	return found
}

// Add appends the evaluations of one or more training runs of the model with the given hash,
// at the given epoch budget. Samples are numbered in the order they are added.
//
// The first time a hash is seen its spec (which must be pruned) and trainableParameters are
// recorded; later calls for the same hash only contribute evaluations.
func (b *Builder) Add(hash cell.Hash, spec *cell.ModelSpec, trainableParameters uint32, epochs uint8, evaluations ...Evaluation) error {
	if b.spent {
		return ErrBuilderSpent
	}
	if epochs == 0 {
		return errors.Wrapf(cell.ErrFormat, "invalid epoch budget 0 for model %s", hash)
	}
	m, found := b.models[hash]
	if !found {
		m = &Model{
			hash:                hash,
			spec:                spec,
			trainableParameters: trainableParameters,
			epochs:              make(map[uint8][]Evaluation),
		}
		b.models[hash] = m
	} else if klog.V(2).Enabled() {
		if !m.spec.Equal(spec) {
			klog.Infof("Model %s: merging statistics of %s into %s", hash, spec, m.spec)
		}
		if m.trainableParameters != trainableParameters {
			klog.Infof("Model %s: trainable parameters %d differ from first recorded %d, keeping the first",
				hash, trainableParameters, m.trainableParameters)
		}
	}
	m.epochs[epochs] = append(m.epochs[epochs], evaluations...)
	return nil
}

// Build returns the Index with everything added so far. The Builder can't be used afterwards:
// the Index takes ownership of its contents.
func (b *Builder) Build() (*Index, error) {
	if b.spent {
		return nil, ErrBuilderSpent
	}
	b.spent = true
	idx := &Index{
		models: b.models,
		hashes: slices.Collect(generics.SortedKeysFunc(b.models, cell.Hash.Compare)),
	}
	b.models = nil
	return idx, nil
}
