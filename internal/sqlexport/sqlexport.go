// Package sqlexport exports a dataset Index to a SQLite database, for ad-hoc analysis with SQL.
//
// SQLite support is only compiled with the build tag "sqlite", otherwise Export returns
// ErrUnavailable.
//
// Schema:
//
//	models(hash, num_vertices, ops, adjacency, trainable_parameters)
//	evaluations(hash, epochs, sample, checkpoint, training_time, train_accuracy, validation_accuracy, test_accuracy)
//
// Where checkpoint is either "halfway" or "complete", and adjacency is the upper triangle bit string.
package sqlexport

import (
	"context"

	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
)

// ErrUnavailable is returned by Export if the binary was built without SQLite support.
var ErrUnavailable = errors.New("sqlite export unavailable in this build, rebuild with -tags sqlite")

// Checkpoint names used in the evaluations table.
const (
	CheckpointHalfway  = "halfway"
	CheckpointComplete = "complete"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS models (
		hash TEXT PRIMARY KEY,
		num_vertices INTEGER NOT NULL,
		ops TEXT NOT NULL,
		adjacency TEXT NOT NULL,
		trainable_parameters INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS evaluations (
		hash TEXT NOT NULL REFERENCES models(hash),
		epochs INTEGER NOT NULL,
		sample INTEGER NOT NULL,
		checkpoint TEXT NOT NULL,
		training_time REAL NOT NULL,
		train_accuracy REAL NOT NULL,
		validation_accuracy REAL NOT NULL,
		test_accuracy REAL NOT NULL,
		PRIMARY KEY (hash, epochs, sample, checkpoint)
	)`,
	`CREATE INDEX IF NOT EXISTS evaluations_by_accuracy ON evaluations (epochs, checkpoint, validation_accuracy)`,
}

// Stats of an export.
type Stats struct {
	NumModels, NumEvaluations int
}

// Export writes all models and evaluations of idx to the SQLite database at path, creating
// it if needed. Existing rows with the same keys are replaced.
func Export(ctx context.Context, path string, idx *dataset.Index) (Stats, error) {
	if path == "" {
		return Stats{}, errors.New("sqlite path is required")
	}
	return exportSQLite(ctx, path, idx)
}
