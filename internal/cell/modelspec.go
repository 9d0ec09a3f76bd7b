package cell

import (
	"fmt"
	"slices"

	"github.com/janpfeifer/nasbench/internal/generics"
	"github.com/pkg/errors"
)

// ModelSpec describes one cell: the operation of each vertex and the edges among them.
//
// Vertex 0 is always the Input and the last vertex the Output. A ModelSpec is immutable:
// accessors return copies.
type ModelSpec struct {
	ops    []Op
	matrix Matrix
}

// NewModelSpec validates and creates a ModelSpec. It returns an error wrapping ErrInvalidSpec if:
//
//   - the number of ops doesn't match the number of vertices in the matrix;
//   - the first op is not Input or the last op is not Output;
//   - any intermediate op is not a computation op;
//   - there is an edge from a vertex to itself or to a lower numbered vertex.
//
// The spec is not pruned, see ModelSpec.Prune.
func NewModelSpec(ops []Op, matrix Matrix) (*ModelSpec, error) {
	numVertices := matrix.NumVertices()
	if len(ops) != numVertices {
		return nil, errors.Wrapf(ErrInvalidSpec, "%d ops given for an adjacency matrix with %d vertices", len(ops), numVertices)
	}
	if numVertices < 2 {
		return nil, errors.Wrapf(ErrInvalidSpec, "a cell needs at least the input and output vertices, got %d vertices", numVertices)
	}
	if ops[0] != Input {
		return nil, errors.Wrapf(ErrInvalidSpec, "first vertex must be %q, got %q", Input, ops[0])
	}
	if ops[numVertices-1] != Output {
		return nil, errors.Wrapf(ErrInvalidSpec, "last vertex must be %q, got %q", Output, ops[numVertices-1])
	}
	for ii, op := range ops[1 : numVertices-1] {
		if !op.IsComputation() {
			return nil, errors.Wrapf(ErrInvalidSpec, "intermediate vertex %d must be a computation op, got %q", ii+1, op)
		}
	}
	for from := 0; from < numVertices; from++ {
		for to := 0; to <= from; to++ {
			if matrix.HasEdge(from, to) {
				return nil, errors.Wrapf(ErrInvalidSpec, "edge %d->%d goes against the vertex order", from, to)
			}
		}
	}
	return &ModelSpec{ops: slices.Clone(ops), matrix: matrix}, nil
}

// Parse creates a ModelSpec from the op names and an adjacency encoding, either the
// upper triangle or the full matrix (see ParseAdjacency).
func Parse(opNames []string, adjacency string) (*ModelSpec, error) {
	ops, err := ParseOps(opNames)
	if err != nil {
		return nil, err
	}
	matrix, err := ParseAdjacency(len(ops), adjacency)
	if err != nil {
		return nil, err
	}
	return NewModelSpec(ops, matrix)
}

// NumVertices in the cell, including input and output.
func (s *ModelSpec) NumVertices() int {
	return len(s.ops)
}

// Ops returns a copy of the operations, one per vertex.
func (s *ModelSpec) Ops() []Op {
	return slices.Clone(s.ops)
}

// Op returns the operation of vertex v.
func (s *ModelSpec) Op(v int) Op {
	return s.ops[v]
}

// Matrix returns the adjacency matrix.
func (s *ModelSpec) Matrix() Matrix {
	return s.matrix
}

// Equal returns whether both specs have the same ops and edges, with the same vertex numbering.
// Use Hash to compare specs up to renumbering.
func (s *ModelSpec) Equal(other *ModelSpec) bool {
	return s.matrix == other.matrix && slices.Equal(s.ops, other.ops)
}

// String implements fmt.Stringer.
func (s *ModelSpec) String() string {
	return fmt.Sprintf("ops=[%s] adjacency=%s", OpsString(s.ops), s.matrix)
}

// Prune returns the spec without the vertices that are not on any path from the input to
// the output: those can't change the computation of the cell.
//
// The remaining vertices keep their relative order. Pruning an already pruned spec returns an
// equal spec. It fails with ErrInvalidSpec if the input is not connected to the output.
func (s *ModelSpec) Prune() (*ModelSpec, error) {
	numVertices := len(s.ops)
	fromInput := s.reachable(0, func(v, w int) bool { return s.matrix.HasEdge(v, w) })
	toOutput := s.reachable(numVertices-1, func(v, w int) bool { return s.matrix.HasEdge(w, v) })
	if !fromInput.Has(numVertices - 1) {
		return nil, errors.Wrapf(ErrInvalidSpec, "input is not connected to output in %s", s)
	}

	kept := make([]int, 0, numVertices)
	for v := range numVertices {
		if fromInput.Has(v) && toOutput.Has(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == numVertices {
		return s, nil
	}
	pruned := &ModelSpec{
		ops:    make([]Op, len(kept)),
		matrix: s.matrix.subMatrix(kept),
	}
	for newV, v := range kept {
		pruned.ops[newV] = s.ops[v]
	}
	return pruned, nil
}

// reachable returns the set of vertices reachable from start following the given edge relation.
func (s *ModelSpec) reachable(start int, edge func(v, w int) bool) generics.Set[int] {
	visited := generics.SetWith(start)
	frontier := []int{start}
	for len(frontier) > 0 {
		v := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for w := range len(s.ops) {
			if edge(v, w) && !visited.Has(w) {
				visited.Insert(w)
				frontier = append(frontier, w)
			}
		}
	}
	return visited
}

// Hash prunes the spec and returns its canonical hash, the key of the dataset.
func (s *ModelSpec) Hash() (Hash, error) {
	pruned, err := s.Prune()
	if err != nil {
		return Hash{}, err
	}
	return hashModule(pruned.ops, pruned.matrix), nil
}
