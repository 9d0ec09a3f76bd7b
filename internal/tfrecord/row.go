package tfrecord

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strings"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

const numRowColumns = 5

// Field numbers of the ModelMetrics message.
const (
	metricsEvaluationData      protowire.Number = 1
	metricsTrainableParameters protowire.Number = 2
	metricsTotalTime           protowire.Number = 3
)

// Field numbers of the EvaluationData message.
const (
	evalCurrentEpoch       protowire.Number = 1
	evalTrainingTime       protowire.Number = 2
	evalTrainAccuracy      protowire.Number = 3
	evalValidationAccuracy protowire.Number = 4
	evalTestAccuracy       protowire.Number = 5
	evalCheckpointPath     protowire.Number = 6
)

// The evaluation_data entries of a training run: at start, halfway and at the end of training.
const (
	halfwayEvaluation = 1
	finalEvaluation   = 2
	numEvaluations    = 3
)

// evaluationData mirrors the EvaluationData message.
type evaluationData struct {
	currentEpoch       float64
	trainingTime       float64
	trainAccuracy      float64
	validationAccuracy float64
	testAccuracy       float64
	checkpointPath     string
}

func (e evaluationData) stats() dataset.EpochStats {
	return dataset.EpochStats{
		TrainingTime:       e.trainingTime,
		TrainAccuracy:      e.trainAccuracy,
		ValidationAccuracy: e.validationAccuracy,
		TestAccuracy:       e.testAccuracy,
	}
}

func evaluationFromStats(epoch float64, stats dataset.EpochStats) evaluationData {
	return evaluationData{
		currentEpoch:       epoch,
		trainingTime:       stats.TrainingTime,
		trainAccuracy:      stats.TrainAccuracy,
		validationAccuracy: stats.ValidationAccuracy,
		testAccuracy:       stats.TestAccuracy,
	}
}

// modelMetrics mirrors the ModelMetrics message.
type modelMetrics struct {
	evaluations         []evaluationData
	trainableParameters int32
	totalTime           float64
}

// DecodeRow parses the JSON row of one record. Failures wrap cell.ErrFormat.
func DecodeRow(payload []byte) (dataset.Record, error) {
	var rec dataset.Record
	var columns []json.RawMessage
	if err := json.Unmarshal(payload, &columns); err != nil {
		return rec, errors.Wrapf(cell.ErrFormat, "row is not a JSON list: %v", err)
	}
	if len(columns) != numRowColumns {
		return rec, errors.Wrapf(cell.ErrFormat, "row has %d columns, expected %d", len(columns), numRowColumns)
	}
	var (
		epochs     int
		rawOps     string
		rawMetrics string
	)
	for ii, target := range []any{&rec.DeclaredHash, &epochs, &rec.Adjacency, &rawOps, &rawMetrics} {
		if err := json.Unmarshal(columns[ii], target); err != nil {
			return rec, errors.Wrapf(cell.ErrFormat, "row column %d: %v", ii, err)
		}
	}
	if epochs < 1 || epochs > math.MaxUint8 {
		return rec, errors.Wrapf(cell.ErrFormat, "invalid epoch budget %d", epochs)
	}
	rec.Epochs = uint8(epochs)
	rec.Ops = strings.Split(rawOps, ",")

	metricsBytes, err := base64.StdEncoding.DecodeString(rawMetrics)
	if err != nil {
		return rec, errors.Wrapf(cell.ErrFormat, "metrics are not base64: %v", err)
	}
	metrics, err := decodeMetrics(metricsBytes)
	if err != nil {
		return rec, err
	}
	if metrics.trainableParameters < 0 {
		return rec, errors.Wrapf(cell.ErrFormat, "negative number of trainable parameters %d", metrics.trainableParameters)
	}
	rec.TrainableParameters = uint32(metrics.trainableParameters)
	switch {
	case len(metrics.evaluations) < numEvaluations:
		return rec, errors.Wrapf(cell.ErrFormat, "metrics have %d evaluations, at least %d expected",
			len(metrics.evaluations), numEvaluations)
	case len(metrics.evaluations) > numEvaluations:
		klog.Warningf("Model %s at %d epochs has %d evaluations, using #%d as halfway and #%d as complete",
			rec.DeclaredHash, rec.Epochs, len(metrics.evaluations), halfwayEvaluation, finalEvaluation)
	}
	rec.Evaluation = dataset.Evaluation{
		Halfway:  metrics.evaluations[halfwayEvaluation].stats(),
		Complete: metrics.evaluations[finalEvaluation].stats(),
	}
	return rec, nil
}

// EncodeRow is the inverse of DecodeRow. The metrics get 3 evaluations: an empty one at epoch
// 0, the halfway and the complete ones.
func EncodeRow(rec dataset.Record) ([]byte, error) {
	metrics := modelMetrics{
		evaluations: []evaluationData{
			{},
			evaluationFromStats(float64(rec.Epochs)/2, rec.Evaluation.Halfway),
			evaluationFromStats(float64(rec.Epochs), rec.Evaluation.Complete),
		},
		trainableParameters: int32(rec.TrainableParameters),
		totalTime:           rec.Evaluation.Complete.TrainingTime,
	}
	row := []any{
		rec.DeclaredHash,
		int(rec.Epochs),
		rec.Adjacency,
		strings.Join(rec.Ops, ","),
		base64.StdEncoding.EncodeToString(appendMetrics(nil, metrics)),
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode row of model %s", rec.DeclaredHash)
	}
	return payload, nil
}

func decodeMetrics(b []byte) (modelMetrics, error) {
	var m modelMetrics
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrapf(cell.ErrFormat, "metrics: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == metricsEvaluationData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				eval, err := decodeEvaluation(v)
				if err != nil {
					return m, errors.WithMessagef(err, "metrics evaluation #%d", len(m.evaluations))
				}
				m.evaluations = append(m.evaluations, eval)
			}
		case num == metricsTrainableParameters && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.trainableParameters = int32(v)
		case num == metricsTotalTime && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			m.totalTime = math.Float64frombits(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return m, errors.Wrapf(cell.ErrFormat, "metrics field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return m, nil
}

func decodeEvaluation(b []byte) (evaluationData, error) {
	var e evaluationData
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, errors.Wrapf(cell.ErrFormat, "evaluation: %v", protowire.ParseError(n))
		}
		b = b[n:]
		var target *float64
		switch num {
		case evalCurrentEpoch:
			target = &e.currentEpoch
		case evalTrainingTime:
			target = &e.trainingTime
		case evalTrainAccuracy:
			target = &e.trainAccuracy
		case evalValidationAccuracy:
			target = &e.validationAccuracy
		case evalTestAccuracy:
			target = &e.testAccuracy
		}
		switch {
		case target != nil && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			*target = math.Float64frombits(v)
		case num == evalCheckpointPath && typ == protowire.BytesType:
			e.checkpointPath, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return e, errors.Wrapf(cell.ErrFormat, "evaluation field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return e, nil
}

func appendMetrics(b []byte, m modelMetrics) []byte {
	for _, eval := range m.evaluations {
		b = protowire.AppendTag(b, metricsEvaluationData, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEvaluation(nil, eval))
	}
	b = protowire.AppendTag(b, metricsTrainableParameters, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.trainableParameters)))
	b = protowire.AppendTag(b, metricsTotalTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.totalTime))
	return b
}

func appendEvaluation(b []byte, e evaluationData) []byte {
	for _, field := range []struct {
		num   protowire.Number
		value float64
	}{
		{evalCurrentEpoch, e.currentEpoch},
		{evalTrainingTime, e.trainingTime},
		{evalTrainAccuracy, e.trainAccuracy},
		{evalValidationAccuracy, e.validationAccuracy},
		{evalTestAccuracy, e.testAccuracy},
	} {
		b = protowire.AppendTag(b, field.num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(field.value))
	}
	if e.checkpointPath != "" {
		b = protowire.AppendTag(b, evalCheckpointPath, protowire.BytesType)
		b = protowire.AppendString(b, e.checkpointPath)
	}
	return b
}
