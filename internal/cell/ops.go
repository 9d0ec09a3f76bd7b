// Package cell defines the architecture of a NAS-Bench-101 cell: a small DAG with one
// operation per vertex, described by a ModelSpec.
//
// It implements the pruning of dead vertices and the canonical hash used as the key of
// the dataset: two specs that only differ by how their intermediate vertices are numbered
// share the same hash.
package cell

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Op is the operation of one vertex of the cell.
type Op uint8

const (
	// InvalidOp is the zero value, never part of a valid spec.
	InvalidOp Op = iota
	Input
	Conv1x1
	Conv3x3
	MaxPool3x3
	Output
	LastOp
)

// NumOps is the number of valid operations, excluding InvalidOp.
const NumOps = int(LastOp) - 1

var (
	// OpNames are the names used by the dataset files.
	OpNames = [LastOp]string{"invalid", "input", "conv1x1-bn-relu", "conv3x3-bn-relu", "maxpool3x3", "output"}

	// nameToOp also accepts shorter aliases, convenient on the command line.
	nameToOp = map[string]Op{
		"input":           Input,
		"conv1x1-bn-relu": Conv1x1,
		"conv1x1":         Conv1x1,
		"conv3x3-bn-relu": Conv3x3,
		"conv3x3":         Conv3x3,
		"maxpool3x3":      MaxPool3x3,
		"maxpool":         MaxPool3x3,
		"output":          Output,
	}

	// hashLabels are the vertex labels of the dataset's hashing scheme: the sentinels are
	// negative and the computation ops are their position in the list of available ops
	// (conv3x3, conv1x1, maxpool).
	hashLabels = [LastOp]int{0, -1, 1, 0, 2, -2}
)

// String returns the dataset name of the op.
func (op Op) String() string {
	if op >= LastOp {
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
	return OpNames[op]
}

// IsValid returns whether op is one of the known operations.
func (op Op) IsValid() bool {
	return op > InvalidOp && op < LastOp
}

// IsComputation returns whether op can be used in an intermediate vertex.
func (op Op) IsComputation() bool {
	return op == Conv1x1 || op == Conv3x3 || op == MaxPool3x3
}

// hashLabel returns the integer label of op used by hashModule.
func (op Op) hashLabel() int {
	return hashLabels[op]
}

// ParseOp converts an op name (or one of its aliases) to an Op.
func ParseOp(name string) (Op, error) {
	op, found := nameToOp[strings.ToLower(strings.TrimSpace(name))]
	if !found {
		return InvalidOp, errors.Wrapf(ErrFormat, "unknown operation %q", name)
	}
	return op, nil
}

// ParseOps converts a list of op names.
func ParseOps(names []string) ([]Op, error) {
	ops := make([]Op, len(names))
	for ii, name := range names {
		var err error
		ops[ii], err = ParseOp(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "vertex %d", ii)
		}
	}
	return ops, nil
}

// OpsString joins the names of the ops with commas, the format of the dataset files.
func OpsString(ops []Op) string {
	parts := make([]string, len(ops))
	for ii, op := range ops {
		parts[ii] = op.String()
	}
	return strings.Join(parts, ",")
}
