package cell

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// MaxVertices is the largest cell in the search space, including input and output.
const MaxVertices = 7

// Matrix is the adjacency matrix of a cell: Matrix.HasEdge(from, to) is true if the output
// of vertex "from" feeds vertex "to".
//
// Only the strict upper triangle can be set (from < to), so every Matrix is a DAG whose
// vertex numbering is already a topological order.
//
// Matrix is a small value type, and it is comparable with ==.
type Matrix struct {
	numVertices int

	// rows[from] has bit "to" set for each edge from->to.
	rows [MaxVertices]uint8
}

// NewMatrix returns a matrix with numVertices and no edges.
func NewMatrix(numVertices int) (Matrix, error) {
	if numVertices < 1 || numVertices > MaxVertices {
		return Matrix{}, errors.Wrapf(ErrFormat, "number of vertices %d out of range [1, %d]", numVertices, MaxVertices)
	}
	return Matrix{numVertices: numVertices}, nil
}

// NumUpperTriangle returns the number of entries in the strict upper triangle of a square
// matrix with side numVertices.
func NumUpperTriangle(numVertices int) int {
	return numVertices * (numVertices - 1) / 2
}

// ParseMatrix parses the row-major strict upper triangle of the matrix, given as a string
// of '0' and '1' with NumUpperTriangle(numVertices) characters.
//
// Example: for 3 vertices, "101" encodes the edges 0->1 (row 0), no 0->2, and 1->2 (row 1).
func ParseMatrix(numVertices int, bits string) (Matrix, error) {
	m, err := NewMatrix(numVertices)
	if err != nil {
		return m, err
	}
	if len(bits) != NumUpperTriangle(numVertices) {
		return Matrix{}, errors.Wrapf(ErrFormat, "upper triangle encoding for %d vertices must have %d bits, got %d (%q)",
			numVertices, NumUpperTriangle(numVertices), len(bits), bits)
	}
	idx := 0
	for from := 0; from < numVertices; from++ {
		for to := from + 1; to < numVertices; to++ {
			set, err := parseBit(bits, idx)
			if err != nil {
				return Matrix{}, err
			}
			if set {
				m.rows[from] |= 1 << to
			}
			idx++
		}
	}
	return m, nil
}

// ParseFullMatrix parses the row-major full square matrix, the encoding used by the dataset
// files: a string of '0' and '1' whose length is the square of the number of vertices.
//
// Bits on or below the diagonal must be '0'.
func ParseFullMatrix(bits string) (Matrix, error) {
	side := int(math.Sqrt(float64(len(bits))))
	if side*side != len(bits) {
		return Matrix{}, errors.Wrapf(ErrFormat, "full adjacency encoding %q is not square (length %d)", bits, len(bits))
	}
	m, err := NewMatrix(side)
	if err != nil {
		return m, err
	}
	for from := 0; from < side; from++ {
		for to := 0; to < side; to++ {
			set, err := parseBit(bits, from*side+to)
			if err != nil {
				return Matrix{}, err
			}
			if !set {
				continue
			}
			if to <= from {
				return Matrix{}, errors.Wrapf(ErrFormat, "adjacency %q has edge %d->%d on or below the diagonal", bits, from, to)
			}
			m.rows[from] |= 1 << to
		}
	}
	return m, nil
}

// ParseAdjacency accepts either the upper triangle encoding (see ParseMatrix) or the full
// square encoding (see ParseFullMatrix), distinguished by the length of bits.
func ParseAdjacency(numVertices int, bits string) (Matrix, error) {
	bits = strings.TrimSpace(bits)
	if numVertices > 1 && len(bits) == numVertices*numVertices {
		return ParseFullMatrix(bits)
	}
	return ParseMatrix(numVertices, bits)
}

func parseBit(bits string, idx int) (bool, error) {
	switch bits[idx] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	default:
		return false, errors.Wrapf(ErrFormat, "invalid character %q at position %d of adjacency %q", bits[idx], idx, bits)
	}
}

// NumVertices in the matrix.
func (m Matrix) NumVertices() int {
	return m.numVertices
}

// HasEdge returns whether there is an edge from->to. Out of range vertices have no edges.
func (m Matrix) HasEdge(from, to int) bool {
	if from < 0 || to < 0 || from >= m.numVertices || to >= m.numVertices {
		return false
	}
	return m.rows[from]&(1<<to) != 0
}

// WithEdge returns a copy of the matrix with the edge from->to set.
func (m Matrix) WithEdge(from, to int) (Matrix, error) {
	if from < 0 || to >= m.numVertices || from >= to {
		return m, errors.Wrapf(ErrFormat, "edge %d->%d not in the upper triangle of a %d vertices matrix", from, to, m.numVertices)
	}
	m.rows[from] |= 1 << to
	return m, nil
}

// OutDegree is the number of edges leaving v.
func (m Matrix) OutDegree(v int) int {
	count := 0
	for to := 0; to < m.numVertices; to++ {
		if m.HasEdge(v, to) {
			count++
		}
	}
	return count
}

// InDegree is the number of edges arriving at v.
func (m Matrix) InDegree(v int) int {
	count := 0
	for from := 0; from < m.numVertices; from++ {
		if m.HasEdge(from, v) {
			count++
		}
	}
	return count
}

// NumEdges in the matrix.
func (m Matrix) NumEdges() int {
	count := 0
	for v := 0; v < m.numVertices; v++ {
		count += m.OutDegree(v)
	}
	return count
}

// String returns the upper triangle encoding, accepted by ParseMatrix.
func (m Matrix) String() string {
	var sb strings.Builder
	sb.Grow(NumUpperTriangle(m.numVertices))
	for from := 0; from < m.numVertices; from++ {
		for to := from + 1; to < m.numVertices; to++ {
			sb.WriteByte(bitChar(m.HasEdge(from, to)))
		}
	}
	return sb.String()
}

// FullString returns the full square encoding, accepted by ParseFullMatrix.
func (m Matrix) FullString() string {
	var sb strings.Builder
	sb.Grow(m.numVertices * m.numVertices)
	for from := 0; from < m.numVertices; from++ {
		for to := 0; to < m.numVertices; to++ {
			sb.WriteByte(bitChar(m.HasEdge(from, to)))
		}
	}
	return sb.String()
}

func bitChar(set bool) byte {
	if set {
		return '1'
	}
	return '0'
}

// PackedSize is the number of bytes used by PackBits for a matrix with numVertices.
func PackedSize(numVertices int) int {
	return (NumUpperTriangle(numVertices) + 7) / 8
}

// PackBits packs the upper triangle, in the same order as String, 8 entries per byte, starting
// from the least significant bit. Unused bits of the last byte are 0.
func (m Matrix) PackBits() []byte {
	packed := make([]byte, PackedSize(m.numVertices))
	idx := 0
	for from := 0; from < m.numVertices; from++ {
		for to := from + 1; to < m.numVertices; to++ {
			if m.HasEdge(from, to) {
				packed[idx>>3] |= 1 << (idx & 7)
			}
			idx++
		}
	}
	return packed
}

// UnpackMatrix is the inverse of Matrix.PackBits. Padding bits must be 0.
func UnpackMatrix(numVertices int, packed []byte) (Matrix, error) {
	m, err := NewMatrix(numVertices)
	if err != nil {
		return m, err
	}
	if len(packed) != PackedSize(numVertices) {
		return Matrix{}, errors.Wrapf(ErrFormat, "packed adjacency for %d vertices must have %d bytes, got %d",
			numVertices, PackedSize(numVertices), len(packed))
	}
	idx := 0
	for from := 0; from < numVertices; from++ {
		for to := from + 1; to < numVertices; to++ {
			if packed[idx>>3]&(1<<(idx&7)) != 0 {
				m.rows[from] |= 1 << to
			}
			idx++
		}
	}
	for ; idx < len(packed)*8; idx++ {
		if packed[idx>>3]&(1<<(idx&7)) != 0 {
			return Matrix{}, errors.Wrapf(ErrFormat, "packed adjacency has padding bit %d set", idx)
		}
	}
	return m, nil
}

// subMatrix returns the matrix restricted to the given vertices, renumbered in the given order.
func (m Matrix) subMatrix(vertices []int) Matrix {
	sub := Matrix{numVertices: len(vertices)}
	for newFrom, from := range vertices {
		for newTo, to := range vertices {
			if m.HasEdge(from, to) {
				sub.rows[newFrom] |= 1 << newTo
			}
		}
	}
	return sub
}
