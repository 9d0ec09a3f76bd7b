// Package dataset holds the NAS-Bench-101 statistics, indexed by the canonical hash of each cell.
//
// An Index is created with a Builder, and it is read-only afterwards: it can be shared by any
// number of goroutines without locking.
package dataset

import (
	"iter"
	"math"
	"slices"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/generics"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownModel is returned when a hash is not in the index.
	ErrUnknownModel = errors.New("unknown model")

	// ErrUnknownEpochBudget is returned when a model has no statistics for the requested epochs.
	ErrUnknownEpochBudget = errors.New("unknown epoch budget")

	// ErrSampleOutOfRange is returned when the sample index is beyond the number of recorded runs.
	ErrSampleOutOfRange = errors.New("sample index out of range")
)

// EpochStats are the metrics of one training run, measured at one checkpoint.
type EpochStats struct {
	// TrainingTime in seconds, up to the checkpoint.
	TrainingTime float64

	TrainAccuracy, ValidationAccuracy, TestAccuracy float64
}

// Evaluation holds the statistics of one training run (one sample) at the halfway and at the
// final checkpoints of its epoch budget.
type Evaluation struct {
	Halfway, Complete EpochStats
}

// Select returns the Halfway stats if halfway is true, or the Complete stats otherwise.
func (e Evaluation) Select(halfway bool) EpochStats {
	if halfway {
		return e.Halfway
	}
	return e.Complete
}

// identical compares the bits of each metric, so NaN values compare equal to themselves.
func (s EpochStats) identical(other EpochStats) bool {
	return math.Float64bits(s.TrainingTime) == math.Float64bits(other.TrainingTime) &&
		math.Float64bits(s.TrainAccuracy) == math.Float64bits(other.TrainAccuracy) &&
		math.Float64bits(s.ValidationAccuracy) == math.Float64bits(other.ValidationAccuracy) &&
		math.Float64bits(s.TestAccuracy) == math.Float64bits(other.TestAccuracy)
}

func (e Evaluation) identical(other Evaluation) bool {
	return e.Halfway.identical(other.Halfway) && e.Complete.identical(other.Complete)
}

// Model is one entry of the dataset: a pruned cell and the statistics of all its training runs.
type Model struct {
	hash                cell.Hash
	spec                *cell.ModelSpec
	trainableParameters uint32

	// epochs maps the epoch budget to its samples, in the order they were recorded.
	epochs map[uint8][]Evaluation
}

// Hash is the canonical hash of the model's cell.
func (m *Model) Hash() cell.Hash { return m.hash }

// Spec returns the pruned cell of the model.
func (m *Model) Spec() *cell.ModelSpec { return m.spec }

// TrainableParameters of the model.
func (m *Model) TrainableParameters() uint32 { return m.trainableParameters }

// Epochs returns the epoch budgets with statistics, in increasing order.
func (m *Model) Epochs() []uint8 {
	return slices.Collect(generics.SortedKeys(m.epochs))
}

// NumSamples returns the number of training runs recorded for the epoch budget, 0 if none.
func (m *Model) NumSamples(epochs uint8) int {
	return len(m.epochs[epochs])
}

// Samples returns a copy of the evaluations recorded for the epoch budget.
func (m *Model) Samples(epochs uint8) ([]Evaluation, error) {
	samples, found := m.epochs[epochs]
	if !found {
		return nil, errors.Wrapf(ErrUnknownEpochBudget, "model %s has no statistics for %d epochs (available: %v)",
			m.hash, epochs, m.Epochs())
	}
	return slices.Clone(samples), nil
}

// Sample returns the evaluation of the sampleIdx-th run for the epoch budget.
func (m *Model) Sample(epochs uint8, sampleIdx int) (Evaluation, error) {
	samples, found := m.epochs[epochs]
	if !found {
		return Evaluation{}, errors.Wrapf(ErrUnknownEpochBudget, "model %s has no statistics for %d epochs (available: %v)",
			m.hash, epochs, m.Epochs())
	}
	if sampleIdx < 0 || sampleIdx >= len(samples) {
		return Evaluation{}, errors.Wrapf(ErrSampleOutOfRange, "sample index %d for model %s at %d epochs, only %d samples recorded",
			sampleIdx, m.hash, epochs, len(samples))
	}
	return samples[sampleIdx], nil
}

// Equal returns whether both models have the same cell, parameters and statistics, in the same order.
// Statistics are compared bit by bit.
func (m *Model) Equal(other *Model) bool {
	if m.hash != other.hash || m.trainableParameters != other.trainableParameters || !m.spec.Equal(other.spec) {
		return false
	}
	if len(m.epochs) != len(other.epochs) {
		return false
	}
	for epochs, samples := range m.epochs {
		otherSamples, found := other.epochs[epochs]
		if !found || !slices.EqualFunc(samples, otherSamples, Evaluation.identical) {
			return false
		}
	}
	return true
}

// Index maps canonical hashes to models. It is immutable.
type Index struct {
	models map[cell.Hash]*Model

	// hashes sorted, for a deterministic iteration order.
	hashes []cell.Hash
}

// Len returns the number of models in the index.
func (idx *Index) Len() int {
	return len(idx.hashes)
}

// Hashes returns all the hashes, sorted.
func (idx *Index) Hashes() []cell.Hash {
	return slices.Clone(idx.hashes)
}

// Model returns the model with the given hash, or ErrUnknownModel.
func (idx *Index) Model(hash cell.Hash) (*Model, error) {
	m, found := idx.models[hash]
	if !found {
		return nil, errors.Wrapf(ErrUnknownModel, "no model with hash %s", hash)
	}
	return m, nil
}

// Models iterates over the models, ordered by hash.
func (idx *Index) Models() iter.Seq[*Model] {
	return func(yield func(*Model) bool) {
		for _, hash := range idx.hashes {
			if !yield(idx.models[hash]) {
				return
			}
		}
	}
}

// Evaluation returns the sampleIdx-th evaluation of the model with the given hash at the epoch budget.
func (idx *Index) Evaluation(hash cell.Hash, epochs uint8, sampleIdx int) (Evaluation, error) {
	m, err := idx.Model(hash)
	if err != nil {
		return Evaluation{}, err
	}
	return m.Sample(epochs, sampleIdx)
}

// Equal returns whether both indices hold the same models with the same statistics.
func (idx *Index) Equal(other *Index) bool {
	if !slices.Equal(idx.hashes, other.hashes) {
		return false
	}
	for _, hash := range idx.hashes {
		if !idx.models[hash].Equal(other.models[hash]) {
			return false
		}
	}
	return true
}

// Summary of the contents of an Index.
type Summary struct {
	NumModels int

	// NumEvaluations is the total number of (model, epoch budget, sample) entries.
	NumEvaluations int

	// ModelsPerEpochs and SamplesPerEpochs count, per epoch budget, the models with statistics
	// and the total number of samples.
	ModelsPerEpochs, SamplesPerEpochs map[uint8]int
}

// Summarize counts the contents of the index.
func (idx *Index) Summarize() Summary {
	s := Summary{
		NumModels:        idx.Len(),
		ModelsPerEpochs:  make(map[uint8]int),
		SamplesPerEpochs: make(map[uint8]int),
	}
	for _, m := range idx.models {
		for epochs, samples := range m.epochs {
			s.ModelsPerEpochs[epochs]++
			s.SamplesPerEpochs[epochs] += len(samples)
			s.NumEvaluations += len(samples)
		}
	}
	return s
}
