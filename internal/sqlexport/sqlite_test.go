//go:build sqlite

package sqlexport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportSQLite(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nasbench.db")
	idx := testIndex(t)

	stats, err := Export(ctx, dbPath, idx)
	require.NoError(t, err)
	assert.Equal(t, Stats{NumModels: 2, NumEvaluations: 6}, stats)

	// Exporting again replaces the rows.
	_, err = Export(ctx, dbPath, idx)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var numModels, numEvaluations int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&numModels))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations`).Scan(&numEvaluations))
	assert.Equal(t, 2, numModels)
	assert.Equal(t, 12, numEvaluations, "one row per checkpoint")

	var ops string
	var params int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT m.ops, m.trainable_parameters FROM models m JOIN evaluations e ON m.hash = e.hash
		 WHERE e.epochs = 108 AND e.checkpoint = ? ORDER BY e.test_accuracy DESC LIMIT 1`,
		CheckpointComplete).Scan(&ops, &params))
	assert.Equal(t, "input,maxpool3x3,output", ops)
	assert.Equal(t, 2000, params)
}
