//go:build !sqlite

package sqlexport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExportUnavailable(t *testing.T) {
	assert.False(t, Available)
	_, err := Export(context.Background(), filepath.Join(t.TempDir(), "nasbench.db"), testIndex(t))
	assert.ErrorIs(t, err, ErrUnavailable)
}
