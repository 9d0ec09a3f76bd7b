// Package tfrecord reads and writes the verbose dataset files: a sequence of TFRecord frames,
// each holding one JSON row `[module_hash, epochs, raw_adjacency, raw_operations, raw_metrics]`.
//
// `raw_metrics` is the base64 encoding of a ModelMetrics protocol buffer, decoded here with
// protowire directly, since only a handful of fields are used.
//
// Frame layout, little endian:
//
//	length uint64 | masked CRC-32C of length uint32 | payload [length]byte | masked CRC-32C of payload uint32
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	frameHeaderSize  = 8 + 4
	frameTrailerSize = 4

	// MaxPayloadSize limits the size of one record, a corrupt length would otherwise
	// allocate arbitrary memory. Rows of the dataset are under 2KB.
	MaxPayloadSize = 1 << 26

	crcMaskDelta = 0xa282ead8
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC returns the masked CRC-32C used by TFRecord frames.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// Reader reads the records of a verbose dataset file. It implements dataset.RecordProducer.
type Reader struct {
	r          *bufio.Reader
	numRecords int
	header     [frameHeaderSize]byte
	payload    []byte
}

var _ dataset.RecordProducer = (*Reader)(nil)

// NewReader returns a Reader over r, which is buffered internally.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// NumRecords returns the number of records read so far.
func (r *Reader) NumRecords() int {
	return r.numRecords
}

// ReadFrame returns the payload of the next frame, with both checksums verified.
// It returns io.EOF if the input ends cleanly before a frame. The returned slice is only
// valid until the next call.
func (r *Reader) ReadFrame() ([]byte, error) {
	n, err := io.ReadFull(r.r, r.header[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(cell.ErrFormat, "record #%d: truncated frame header (%d bytes): %v", r.numRecords, n, err)
	}
	lengthBytes := r.header[:8]
	if got, want := binary.LittleEndian.Uint32(r.header[8:]), maskedCRC(lengthBytes); got != want {
		return nil, errors.Wrapf(cell.ErrFormat, "record #%d: length checksum mismatch (stored %08x, computed %08x)", r.numRecords, got, want)
	}
	length := binary.LittleEndian.Uint64(lengthBytes)
	if length > MaxPayloadSize {
		return nil, errors.Wrapf(cell.ErrFormat, "record #%d: payload length %d larger than the maximum %d", r.numRecords, length, MaxPayloadSize)
	}
	size := int(length) + frameTrailerSize
	if cap(r.payload) < size {
		r.payload = make([]byte, size)
	}
	r.payload = r.payload[:size]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return nil, errors.Wrapf(cell.ErrFormat, "record #%d: truncated payload of %d bytes: %v", r.numRecords, length, err)
	}
	payload := r.payload[:length]
	if got, want := binary.LittleEndian.Uint32(r.payload[length:]), maskedCRC(payload); got != want {
		return nil, errors.Wrapf(cell.ErrFormat, "record #%d: payload checksum mismatch (stored %08x, computed %08x)", r.numRecords, got, want)
	}
	r.numRecords++
	return payload, nil
}

// Next reads and decodes the next record. It returns io.EOF at the end of the input.
func (r *Reader) Next() (dataset.Record, error) {
	payload, err := r.ReadFrame()
	if err != nil {
		return dataset.Record{}, err
	}
	rec, err := DecodeRow(payload)
	if err != nil {
		return dataset.Record{}, errors.WithMessagef(err, "record #%d", r.numRecords-1)
	}
	if klog.V(2).Enabled() {
		klog.Infof("Record #%d: hash=%s epochs=%d ops=%v", r.numRecords-1, rec.DeclaredHash, rec.Epochs, rec.Ops)
	}
	return rec, nil
}

// Writer writes frames in the TFRecord layout.
type Writer struct {
	w          io.Writer
	numRecords int
}

// NewWriter returns a Writer to w. Writes are not buffered.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NumRecords returns the number of records written so far.
func (w *Writer) NumRecords() int {
	return w.numRecords
}

// WriteFrame writes one frame with the given payload.
func (w *Writer) WriteFrame(payload []byte) error {
	frame := make([]byte, 0, frameHeaderSize+len(payload)+frameTrailerSize)
	frame = binary.LittleEndian.AppendUint64(frame, uint64(len(payload)))
	frame = binary.LittleEndian.AppendUint32(frame, maskedCRC(frame[:8]))
	frame = append(frame, payload...)
	frame = binary.LittleEndian.AppendUint32(frame, maskedCRC(payload))
	if _, err := w.w.Write(frame); err != nil {
		return errors.Wrapf(err, "failed to write record #%d", w.numRecords)
	}
	w.numRecords++
	return nil
}

// Write encodes rec as a dataset row and writes it as one frame.
func (w *Writer) Write(rec dataset.Record) error {
	payload, err := EncodeRow(rec)
	if err != nil {
		return err
	}
	return w.WriteFrame(payload)
}
