//go:build !sqlite

package sqlexport

import (
	"context"

	"github.com/janpfeifer/nasbench/internal/dataset"
)

// Available reports whether SQLite support was compiled in.
const Available = false

func exportSQLite(_ context.Context, _ string, _ *dataset.Index) (Stats, error) {
	return Stats{}, ErrUnavailable
}
