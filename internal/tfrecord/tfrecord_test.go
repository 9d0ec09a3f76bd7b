package tfrecord

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func testRecord(epochs uint8, accuracy float64) dataset.Record {
	return dataset.Record{
		DeclaredHash:        "b49ac8c578b4561d79ac7087988f1c61",
		Ops:                 []string{"input", "conv3x3-bn-relu", "output"},
		Adjacency:           "011001000",
		Epochs:              epochs,
		TrainableParameters: 227274,
		Evaluation: dataset.Evaluation{
			Halfway:  dataset.EpochStats{TrainingTime: 50.5, TrainAccuracy: accuracy / 2, ValidationAccuracy: accuracy / 3, TestAccuracy: accuracy / 4},
			Complete: dataset.EpochStats{TrainingTime: 101, TrainAccuracy: accuracy, ValidationAccuracy: accuracy - 0.1, TestAccuracy: accuracy - 0.2},
		},
	}
}

func TestMaskedCRC(t *testing.T) {
	// CRC-32C check value of "123456789" is 0xe3069283.
	assert.Equal(t, uint32(0xc78ab0e5), maskedCRC([]byte("123456789")))
	assert.Equal(t, uint32(crcMaskDelta), maskedCRC(nil))
}

func TestReadWrite(t *testing.T) {
	records := []dataset.Record{testRecord(108, 0.9), testRecord(4, 0.5), testRecord(108, 0.91)}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}
	assert.Equal(t, 3, w.NumRecords())

	r := NewReader(bytes.NewReader(buf.Bytes()))
	for ii, want := range records {
		got, err := r.Next()
		require.NoErrorf(t, err, "record #%d", ii)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 3, r.NumRecords())

	// Empty input is an empty dataset.
	_, err = NewReader(bytes.NewReader(nil)).Next()
	assert.Equal(t, io.EOF, err)
}

func TestFramingErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(testRecord(108, 0.9)))
	frame := buf.Bytes()

	badLength := bytes.Clone(frame)
	badLength[0] ^= 0x01
	badPayload := bytes.Clone(frame)
	badPayload[frameHeaderSize+3] ^= 0x01
	badPayloadCRC := bytes.Clone(frame)
	badPayloadCRC[len(badPayloadCRC)-1] ^= 0x01

	testCases := []struct {
		name string
		data []byte
	}{
		{"truncated header", frame[:5]},
		{"truncated payload", frame[:frameHeaderSize+10]},
		{"missing payload checksum", frame[:len(frame)-2]},
		{"length checksum", badLength},
		{"payload checksum", badPayload},
		{"payload checksum corrupted", badPayloadCRC},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tc.data)).Next()
			assert.ErrorIs(t, err, cell.ErrFormat)
		})
	}
}

func TestDecodeRowErrors(t *testing.T) {
	twoEvaluations := protowire.AppendTag(nil, metricsEvaluationData, protowire.BytesType)
	twoEvaluations = protowire.AppendBytes(twoEvaluations, nil)
	twoEvaluations = append(twoEvaluations, twoEvaluations...)
	row := func(epochs any, metrics string) []byte {
		payload, err := json.Marshal([]any{"abc", epochs, "011001000", "input,conv3x3-bn-relu,output", metrics})
		require.NoError(t, err)
		return payload
	}
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{")},
		{"not a list", []byte(`{"a": 1}`)},
		{"short row", []byte(`["abc", 108]`)},
		{"epochs not a number", row("108", "")},
		{"zero epochs", row(0, "")},
		{"too many epochs", row(300, "")},
		{"not base64", row(108, "!!!")},
		{"broken protobuf", row(108, base64.StdEncoding.EncodeToString([]byte{0x0a, 0x50}))},
		{"missing evaluations", row(108, base64.StdEncoding.EncodeToString(twoEvaluations))},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRow(tc.payload)
			assert.ErrorIs(t, err, cell.ErrFormat)
		})
	}
}

func TestDecodeMetricsSkipsUnknownFields(t *testing.T) {
	eval := evaluationFromStats(108, testRecord(108, 0.9).Evaluation.Complete)
	eval.checkpointPath = "/tmp/model.ckpt"
	metrics := modelMetrics{
		evaluations:         []evaluationData{{}, eval, eval},
		trainableParameters: 1234,
		totalTime:           99.5,
	}
	encoded := appendMetrics(nil, metrics)
	encoded = protowire.AppendTag(encoded, 17, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, 42)

	got, err := decodeMetrics(encoded)
	require.NoError(t, err)
	assert.Equal(t, metrics, got)
}
