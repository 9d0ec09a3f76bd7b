package cell

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readmeAdjacency is the example cell from the dataset's documentation.
const readmeAdjacency = "0111010" +
	"0000001" +
	"0000001" +
	"0000100" +
	"0000001" +
	"0000001" +
	"0000000"

var readmeOps = []Op{Input, Conv1x1, Conv3x3, Conv3x3, Conv3x3, MaxPool3x3, Output}

func mustSpec(t *testing.T, ops []Op, adjacency string) *ModelSpec {
	t.Helper()
	matrix, err := ParseAdjacency(len(ops), adjacency)
	require.NoError(t, err)
	spec, err := NewModelSpec(ops, matrix)
	require.NoError(t, err)
	return spec
}

func TestParseOp(t *testing.T) {
	for name, want := range map[string]Op{
		"input": Input, "output": Output,
		"conv1x1-bn-relu": Conv1x1, "conv1x1": Conv1x1,
		"conv3x3-bn-relu": Conv3x3, " CONV3X3 ": Conv3x3,
		"maxpool3x3": MaxPool3x3, "maxpool": MaxPool3x3,
	} {
		got, err := ParseOp(name)
		require.NoErrorf(t, err, "ParseOp(%q)", name)
		assert.Equalf(t, want, got, "ParseOp(%q)", name)
	}
	_, err := ParseOp("conv5x5")
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseOps([]string{"input", "avgpool", "output"})
	require.ErrorIs(t, err, ErrFormat)
	assert.Contains(t, err.Error(), "vertex 1")

	assert.Equal(t, "input,conv3x3-bn-relu,output", OpsString([]Op{Input, Conv3x3, Output}))
	assert.Equal(t, "Op(17)", Op(17).String())
	assert.False(t, InvalidOp.IsValid())
	assert.False(t, Input.IsComputation())
}

func TestParseMatrix(t *testing.T) {
	m, err := ParseMatrix(3, "101")
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumVertices())
	assert.True(t, m.HasEdge(0, 1))
	assert.False(t, m.HasEdge(0, 2))
	assert.True(t, m.HasEdge(1, 2))
	assert.False(t, m.HasEdge(1, 0))
	assert.False(t, m.HasEdge(5, 1))
	assert.Equal(t, 2, m.NumEdges())
	assert.Equal(t, "101", m.String())
	assert.Equal(t, "010001000", m.FullString())

	for _, test := range []struct {
		numVertices int
		bits        string
	}{
		{3, "10"},
		{3, "1011"},
		{3, "1x1"},
		{0, ""},
		{8, "0000000000000000000000000000"},
	} {
		_, err := ParseMatrix(test.numVertices, test.bits)
		assert.ErrorIsf(t, err, ErrFormat, "ParseMatrix(%d, %q)", test.numVertices, test.bits)
	}
}

func TestParseFullMatrix(t *testing.T) {
	m, err := ParseFullMatrix(readmeAdjacency)
	require.NoError(t, err)
	assert.Equal(t, 7, m.NumVertices())
	assert.Equal(t, 9, m.NumEdges())
	assert.Equal(t, 4, m.OutDegree(0))
	assert.Equal(t, 4, m.InDegree(6))
	assert.Equal(t, readmeAdjacency, m.FullString())

	// Round trip through the upper triangle encoding.
	m2, err := ParseMatrix(7, m.String())
	require.NoError(t, err)
	assert.Equal(t, m, m2)

	// Self-loops and back edges are rejected.
	_, err = ParseFullMatrix("100000000")
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ParseFullMatrix("000100000")
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ParseFullMatrix("01000")
	assert.ErrorIs(t, err, ErrFormat)

	// ParseAdjacency selects the encoding by length.
	m3, err := ParseAdjacency(3, "010001000")
	require.NoError(t, err)
	m4, err := ParseAdjacency(3, "101")
	require.NoError(t, err)
	assert.Equal(t, m3, m4)
}

func TestWithEdge(t *testing.T) {
	m, err := NewMatrix(4)
	require.NoError(t, err)
	m, err = m.WithEdge(0, 3)
	require.NoError(t, err)
	assert.True(t, m.HasEdge(0, 3))
	_, err = m.WithEdge(2, 2)
	assert.ErrorIs(t, err, ErrFormat)
	_, err = m.WithEdge(3, 1)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestPackBits(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for numVertices := 1; numVertices <= MaxVertices; numVertices++ {
		for range 20 {
			m := randomMatrix(rng, numVertices, 0.5)
			packed := m.PackBits()
			require.Len(t, packed, PackedSize(numVertices))
			got, err := UnpackMatrix(numVertices, packed)
			require.NoError(t, err)
			require.Equal(t, m, got)
		}
	}

	// 3 vertices use 3 bits: bit 3 is padding.
	_, err := UnpackMatrix(3, []byte{0x08})
	assert.ErrorIs(t, err, ErrFormat)
	_, err = UnpackMatrix(3, []byte{0x01, 0x00})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestNewModelSpec(t *testing.T) {
	spec := mustSpec(t, []Op{Input, Conv3x3, Output}, "101")
	assert.Equal(t, 3, spec.NumVertices())
	assert.Equal(t, "ops=[input,conv3x3-bn-relu,output] adjacency=101", spec.String())

	// Ops are copied in and out.
	ops := []Op{Input, Conv3x3, Output}
	spec = mustSpec(t, ops, "101")
	ops[1] = MaxPool3x3
	got := spec.Ops()
	assert.Equal(t, Conv3x3, got[1])
	got[1] = Conv1x1
	assert.Equal(t, Conv3x3, spec.Op(1))

	for _, test := range []struct {
		name string
		ops  []Op
		bits string
	}{
		{"vertex count mismatch", []Op{Input, Output}, "101"},
		{"single vertex", []Op{Input}, ""},
		{"no input", []Op{Conv3x3, Conv3x3, Output}, "101"},
		{"no output", []Op{Input, Conv3x3, Conv3x3}, "101"},
		{"sentinel in the middle", []Op{Input, Output, Output}, "101"},
		{"invalid op", []Op{Input, InvalidOp, Output}, "101"},
	} {
		t.Run(test.name, func(t *testing.T) {
			numVertices := len(test.ops)
			if test.name == "vertex count mismatch" {
				numVertices = 3
			}
			matrix, err := ParseMatrix(numVertices, test.bits)
			require.NoError(t, err)
			_, err = NewModelSpec(test.ops, matrix)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}

	_, err := Parse([]string{"input", "conv3x3", "output"}, "10")
	assert.ErrorIs(t, err, ErrFormat)
	_, err = Parse([]string{"input", "conv9x9", "output"}, "101")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestPrune(t *testing.T) {
	// A simple chain has nothing to prune.
	chain := mustSpec(t, []Op{Input, Conv3x3, Output}, "101")
	pruned, err := chain.Prune()
	require.NoError(t, err)
	assert.True(t, chain.Equal(pruned))

	// Vertex 2 doesn't reach the output and vertex 3 is not reachable from the input.
	spec := mustSpec(t, []Op{Input, Conv3x3, MaxPool3x3, Conv1x1, Output},
		"01100"+
			"00001"+
			"00000"+
			"00001"+
			"00000")
	pruned, err = spec.Prune()
	require.NoError(t, err)
	assert.True(t, chain.Equal(pruned), "got %s", pruned)

	// Pruning is idempotent.
	again, err := pruned.Prune()
	require.NoError(t, err)
	assert.True(t, pruned.Equal(again))

	// Relative order of kept vertices is preserved.
	spec = mustSpec(t, []Op{Input, Conv1x1, MaxPool3x3, Conv3x3, Output},
		"01010"+
			"00001"+
			"00000"+
			"00001"+
			"00000")
	pruned, err = spec.Prune()
	require.NoError(t, err)
	assert.Equal(t, []Op{Input, Conv1x1, Conv3x3, Output}, pruned.Ops())
	assert.Equal(t, "110011", pruned.Matrix().String())

	// Input not connected to output.
	spec = mustSpec(t, []Op{Input, Conv3x3, Output}, "100")
	_, err = spec.Prune()
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = spec.Hash()
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

// TestHashGolden checks hashes against values generated with the dataset's reference
// implementation of module_hash.
func TestHashGolden(t *testing.T) {
	for _, test := range []struct {
		name      string
		ops       []Op
		adjacency string
		want      string
	}{
		{"input-output", []Op{Input, Output}, "1", "043721b9c7fe8c5fad811d47d83132ec"},
		{"chain", []Op{Input, Conv3x3, Output}, "101", "b49ac8c578b4561d79ac7087988f1c61"},
		{"diamond", []Op{Input, Conv3x3, MaxPool3x3, Output}, "110011", "7c65f6bd01b87407734781b6038050bc"},
		{"diamond-swapped", []Op{Input, MaxPool3x3, Conv3x3, Output}, "110011", "7c65f6bd01b87407734781b6038050bc"},
		{"readme", readmeOps, readmeAdjacency, "28cfc7874f6d200472e1a9dcd8650aa0"},
		// Dead vertices are pruned before hashing, so this is the same as "chain".
		{"chain-with-dead-vertex", []Op{Input, Conv3x3, MaxPool3x3, Output}, "110010", "b49ac8c578b4561d79ac7087988f1c61"},
		{"chain-with-dead-source", []Op{Input, MaxPool3x3, Conv3x3, Output}, "010101", "b49ac8c578b4561d79ac7087988f1c61"},
	} {
		t.Run(test.name, func(t *testing.T) {
			spec := mustSpec(t, test.ops, test.adjacency)
			h, err := spec.Hash()
			require.NoError(t, err)
			assert.Equal(t, test.want, h.String())
			parsed, err := ParseHash(test.want)
			require.NoError(t, err)
			assert.Equal(t, h, parsed)
		})
	}

	_, err := ParseHash("abc")
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ParseHash("zz721b9c7fe8c5fad811d47d83132ec0")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestHashDistinguishesOps(t *testing.T) {
	a := mustSpec(t, []Op{Input, Conv3x3, Output}, "101")
	b := mustSpec(t, []Op{Input, Conv1x1, Output}, "101")
	c := mustSpec(t, []Op{Input, Conv3x3, Output}, "111")
	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	hc, err := c.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
	assert.NotEqual(t, ha, hc)
	assert.NotEqual(t, 0, ha.Compare(hb))
	assert.Equal(t, 0, ha.Compare(ha))
}

func TestHashCompare(t *testing.T) {
	low, err := ParseHash("00ff0000000000000000000000000000")
	require.NoError(t, err)
	high, err := ParseHash("0100000000000000000000000000000f")
	require.NoError(t, err)
	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, high.Compare(high))
}

// TestHashIsomorphismInvariance renumbers intermediate vertices of random cells with random
// topological orders, and checks the hash doesn't change.
func TestHashIsomorphismInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	computationOps := []Op{Conv1x1, Conv3x3, MaxPool3x3}
	numChecked := 0
	for numChecked < 200 {
		numVertices := 3 + rng.IntN(MaxVertices-2)
		ops := make([]Op, numVertices)
		ops[0], ops[numVertices-1] = Input, Output
		for v := 1; v < numVertices-1; v++ {
			ops[v] = computationOps[rng.IntN(len(computationOps))]
		}
		spec, err := NewModelSpec(ops, randomMatrix(rng, numVertices, 0.4))
		require.NoError(t, err)
		want, err := spec.Hash()
		if err != nil {
			// Input disconnected from output.
			continue
		}
		numChecked++

		for range 5 {
			permuted := randomRelabel(t, rng, spec)
			got, err := permuted.Hash()
			require.NoError(t, err)
			require.Equalf(t, want, got, "hash changed after renumbering %s to %s", spec, permuted)
		}
	}
}

func randomMatrix(rng *rand.Rand, numVertices int, density float64) Matrix {
	m := Matrix{numVertices: numVertices}
	for from := 0; from < numVertices; from++ {
		for to := from + 1; to < numVertices; to++ {
			if rng.Float64() < density {
				m.rows[from] |= 1 << to
			}
		}
	}
	return m
}

// randomRelabel renumbers the vertices of spec following a random topological order that
// keeps the input first and the output last.
func randomRelabel(t *testing.T, rng *rand.Rand, spec *ModelSpec) *ModelSpec {
	numVertices := spec.NumVertices()
	m := spec.Matrix()
	inDegree := make([]int, numVertices)
	for v := range numVertices {
		inDegree[v] = m.InDegree(v)
	}
	order := make([]int, 0, numVertices)
	placed := make([]bool, numVertices)
	for len(order) < numVertices {
		var ready []int
		for v := range numVertices {
			switch {
			case placed[v] || inDegree[v] > 0:
				continue
			case len(order) == 0 && v != 0:
				// The input comes first, even when other vertices have no incoming edges.
				continue
			case v == numVertices-1 && len(order) < numVertices-1:
				continue
			}
			ready = append(ready, v)
		}
		require.NotEmpty(t, ready)
		v := ready[rng.IntN(len(ready))]
		placed[v] = true
		order = append(order, v)
		for w := range numVertices {
			if m.HasEdge(v, w) {
				inDegree[w]--
			}
		}
	}

	newIndex := make([]int, numVertices)
	for newV, v := range order {
		newIndex[v] = newV
	}
	newOps := make([]Op, numVertices)
	newMatrix := Matrix{numVertices: numVertices}
	for v := range numVertices {
		newOps[newIndex[v]] = spec.Op(v)
		for w := range numVertices {
			if m.HasEdge(v, w) {
				newMatrix.rows[newIndex[v]] |= 1 << newIndex[w]
			}
		}
	}
	permuted, err := NewModelSpec(newOps, newMatrix)
	require.NoError(t, err, fmt.Sprintf("relabel order %v", order))
	return permuted
}
