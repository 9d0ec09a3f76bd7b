//go:build sqlite

package sqlexport

import (
	"context"
	"database/sql"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "modernc.org/sqlite"
)

// Available reports whether SQLite support was compiled in.
const Available = true

func exportSQLite(ctx context.Context, path string, idx *dataset.Index) (stats Stats, err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return stats, errors.Wrapf(err, "failed to open sqlite database %q", path)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close sqlite database %q", path)
		}
	}()
	if err = db.PingContext(ctx); err != nil {
		return stats, errors.Wrapf(err, "failed to open sqlite database %q", path)
	}
	for _, stmt := range schema {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			return stats, errors.Wrapf(err, "failed to create schema in %q", path)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return stats, errors.Wrap(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	insertModel, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO models (hash, num_vertices, ops, adjacency, trainable_parameters)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return stats, errors.Wrap(err, "failed to prepare models insert")
	}
	defer func() { _ = insertModel.Close() }()
	insertEval, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO evaluations (hash, epochs, sample, checkpoint,
			training_time, train_accuracy, validation_accuracy, test_accuracy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return stats, errors.Wrap(err, "failed to prepare evaluations insert")
	}
	defer func() { _ = insertEval.Close() }()

	for m := range idx.Models() {
		hash := m.Hash().String()
		spec := m.Spec()
		if _, err = insertModel.ExecContext(ctx, hash, spec.NumVertices(), cell.OpsString(spec.Ops()),
			spec.Matrix().String(), m.TrainableParameters()); err != nil {
			return stats, errors.Wrapf(err, "failed to insert model %s", hash)
		}
		stats.NumModels++
		for _, epochs := range m.Epochs() {
			samples, err := m.Samples(epochs)
			if err != nil {
				return stats, err
			}
			for sampleIdx, sample := range samples {
				for _, checkpoint := range []string{CheckpointHalfway, CheckpointComplete} {
					s := sample.Select(checkpoint == CheckpointHalfway)
					if _, err = insertEval.ExecContext(ctx, hash, int(epochs), sampleIdx, checkpoint,
						s.TrainingTime, s.TrainAccuracy, s.ValidationAccuracy, s.TestAccuracy); err != nil {
						return stats, errors.Wrapf(err, "failed to insert evaluation of model %s", hash)
					}
				}
				stats.NumEvaluations++
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return stats, errors.Wrap(err, "failed to commit export")
	}
	klog.V(1).Infof("Exported %d models and %d evaluations to %q", stats.NumModels, stats.NumEvaluations, path)
	return stats, nil
}
