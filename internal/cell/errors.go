package cell

import "github.com/pkg/errors"

var (
	// ErrFormat indicates a malformed encoding of an operation, an adjacency matrix or a record.
	ErrFormat = errors.New("malformed encoding")

	// ErrInvalidSpec indicates a ModelSpec that violates one of its structural invariants.
	ErrInvalidSpec = errors.New("invalid model spec")
)
