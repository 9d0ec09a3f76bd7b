package sqlexport

import (
	"context"
	"testing"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T) *dataset.Index {
	t.Helper()
	b := dataset.NewBuilder()
	for ii, ops := range [][]string{{"input", "conv3x3", "output"}, {"input", "maxpool", "output"}} {
		spec, err := cell.Parse(ops, "101")
		require.NoError(t, err)
		hash, err := spec.Hash()
		require.NoError(t, err)
		acc := 0.5 + float64(ii)/10
		eval := dataset.Evaluation{
			Halfway:  dataset.EpochStats{TrainingTime: 10, TrainAccuracy: acc / 2, ValidationAccuracy: acc / 2, TestAccuracy: acc / 2},
			Complete: dataset.EpochStats{TrainingTime: 20, TrainAccuracy: acc, ValidationAccuracy: acc, TestAccuracy: acc},
		}
		require.NoError(t, b.Add(hash, spec, uint32(1000*(ii+1)), 108, eval, eval))
		require.NoError(t, b.Add(hash, spec, uint32(1000*(ii+1)), 4, eval))
	}
	idx, err := b.Build()
	require.NoError(t, err)
	return idx
}

func TestExportRequiresPath(t *testing.T) {
	_, err := Export(context.Background(), "", testIndex(t))
	assert.Error(t, err)
}
