package cell

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// HashSize is the size in bytes of a Hash.
const HashSize = md5.Size

// Hash is the canonical hash of a cell, see ModelSpec.Hash.
type Hash [HashSize]byte

// String returns the hash as 32 lowercase hex digits, the format of the dataset files.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare returns -1, 0 or +1, ordering hashes by their bytes.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// ParseHash parses the hex representation of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, errors.Wrapf(ErrFormat, "hash %q must have %d hex digits", s, 2*HashSize)
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, errors.Wrapf(ErrFormat, "hash %q is not hexadecimal: %v", s, err)
	}
	return h, nil
}

// hashModule computes the canonical hash of the graph given by ops and matrix, as is: it
// doesn't prune the graph first (see ModelSpec.Hash). ops and matrix must come from a valid
// ModelSpec.
//
// Each vertex starts with a label derived from its (out-degree, in-degree, op). Then, once
// per vertex in the graph, each label is replaced by the digest of the sorted labels of its
// predecessors, the sorted labels of its successors, and its own label. The hash is the
// digest of the sorted final labels, so it doesn't depend on the numbering of the vertices.
//
// The textual layout of each digested string follows the dataset's module_hash exactly, so
// the result can be checked against the hashes declared in the dataset files. Two
// non-isomorphic graphs may still collide, and the dataset treats them as the same model.
func hashModule(ops []Op, matrix Matrix) Hash {
	numVertices := matrix.NumVertices()
	labels := make([]string, numVertices)
	for v := range numVertices {
		labels[v] = hexDigest(fmt.Sprintf("(%d, %d, %d)", matrix.OutDegree(v), matrix.InDegree(v), ops[v].hashLabel()))
	}

	newLabels := make([]string, numVertices)
	neighbors := make([]string, 0, numVertices)
	for range numVertices {
		for v := range numVertices {
			var sb strings.Builder
			neighbors = neighbors[:0]
			for w := range numVertices {
				if matrix.HasEdge(w, v) {
					neighbors = append(neighbors, labels[w])
				}
			}
			slices.Sort(neighbors)
			for _, label := range neighbors {
				sb.WriteString(label)
			}
			sb.WriteByte('|')

			neighbors = neighbors[:0]
			for w := range numVertices {
				if matrix.HasEdge(v, w) {
					neighbors = append(neighbors, labels[w])
				}
			}
			slices.Sort(neighbors)
			for _, label := range neighbors {
				sb.WriteString(label)
			}
			sb.WriteByte('|')
			sb.WriteString(labels[v])
			newLabels[v] = hexDigest(sb.String())
		}
		labels, newLabels = newLabels, labels
	}

	slices.Sort(labels)
	quoted := make([]string, numVertices)
	for ii, label := range labels {
		quoted[ii] = "'" + label + "'"
	}
	return md5.Sum([]byte("[" + strings.Join(quoted, ", ") + "]"))
}

func hexDigest(s string) string {
	digest := md5.Sum([]byte(s))
	return hex.EncodeToString(digest[:])
}
