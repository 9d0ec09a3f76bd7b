package cli

import (
	"bytes"
	"testing"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T) *dataset.Index {
	t.Helper()
	spec, err := cell.Parse([]string{"input", "conv3x3", "maxpool", "output"}, "110011")
	require.NoError(t, err)
	hash, err := spec.Hash()
	require.NoError(t, err)
	b := dataset.NewBuilder()
	for _, acc := range []float64{0.5, 0.7} {
		stats := dataset.EpochStats{TrainingTime: 100 * acc, TrainAccuracy: acc, ValidationAccuracy: acc, TestAccuracy: acc}
		require.NoError(t, b.Add(hash, spec, 1234567, 108, dataset.Evaluation{Halfway: stats, Complete: stats}))
	}
	idx, err := b.Build()
	require.NoError(t, err)
	return idx
}

func TestPrintModel(t *testing.T) {
	idx := testIndex(t)
	m, err := idx.Model(idx.Hashes()[0])
	require.NoError(t, err)

	var buf bytes.Buffer
	ui := New(&buf, false)
	ui.PrintModel(m)
	out := buf.String()
	assert.Contains(t, out, m.Hash().String())
	assert.Contains(t, out, "1,234,567")
	assert.Contains(t, out, "108 epochs:")
	assert.Contains(t, out, "conv3x3-bn-relu 1")
	assert.Contains(t, out, "maxpool3x3 2")

	buf.Reset()
	require.NoError(t, ui.PrintSamples(m, 108, false))
	out = buf.String()
	assert.Contains(t, out, "2 samples")
	assert.Contains(t, out, "0.6000", "mean of the test accuracies")
	assert.Error(t, ui.PrintSamples(m, 4, false))

	buf.Reset()
	ui.PrintStats(dataset.EpochStats{TrainingTime: 12.5, TestAccuracy: 0.93})
	assert.Contains(t, buf.String(), "12.50s")
	assert.Contains(t, buf.String(), "0.9300")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).PrintSummary("nasbench.bin", testIndex(t).Summarize(), 2_500_000)
	out := buf.String()
	assert.Contains(t, out, "nasbench.bin")
	assert.Contains(t, out, "2.5 MB")
	assert.Contains(t, out, "1 models, 2 samples")
}

func TestMeanStats(t *testing.T) {
	assert.Equal(t, dataset.EpochStats{}, meanStats(nil))
	mean := meanStats([]dataset.EpochStats{{TrainingTime: 1, TestAccuracy: 0.5}, {TrainingTime: 3, TestAccuracy: 1}})
	assert.Equal(t, 2.0, mean.TrainingTime)
	assert.Equal(t, 0.75, mean.TestAccuracy)
	assert.Equal(t, 5, displayWidth("\x1b[1mhello\x1b[0m"))
}
