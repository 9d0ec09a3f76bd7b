// Package compact implements the compact binary format of the dataset.
//
// The layout, all integers little endian:
//
//	header:  magic "NASB" | format version uint16 | number of models uint32
//	model*:  block length uint32 | block
//	trailer: CRC-32 (IEEE) of all the preceding bytes, uint32
//
// And each block:
//
//	hash [16]byte | number of vertices uint8 | ops [V]uint8 | packed adjacency (see cell.Matrix.PackBits) |
//	trainable parameters uint32 | number of epoch budgets uint8 |
//	per epoch budget, increasing: epochs uint8 | number of samples uint16 |
//	    per sample: halfway stats, complete stats, each 4 float64:
//	    training time, train accuracy, validation accuracy, test accuracy
//
// Models are written sorted by hash, so the same Index always produces the same bytes.
package compact

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/janpfeifer/nasbench/internal/cell"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// Magic starts every compact file.
	Magic = "NASB"

	// FormatVersion written by this package, and the only one it reads.
	FormatVersion uint16 = 1

	headerSize  = len(Magic) + 2 + 4
	trailerSize = 4

	// maxBlockSize guards against allocating absurd amounts of memory on a corrupt length.
	maxBlockSize = 1 << 24
)

// ErrCorruptData is returned when reading a compact file that is not consistent.
var ErrCorruptData = errors.New("corrupt compact dataset")

// Write the index in the compact format to w.
func Write(w io.Writer, idx *dataset.Index) error {
	checksum := crc32.NewIEEE()
	body := io.MultiWriter(w, checksum)

	header := make([]byte, 0, headerSize)
	header = append(header, Magic...)
	header = binary.LittleEndian.AppendUint16(header, FormatVersion)
	header = binary.LittleEndian.AppendUint32(header, uint32(idx.Len()))
	if _, err := body.Write(header); err != nil {
		return errors.Wrap(err, "failed to write compact dataset header")
	}

	var block []byte
	numModels := 0
	for m := range idx.Models() {
		var err error
		block, err = appendBlock(block[:0], m)
		if err != nil {
			return err
		}
		if _, err := body.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(block)))); err != nil {
			return errors.Wrapf(err, "failed to write block of model %s", m.Hash())
		}
		if _, err := body.Write(block); err != nil {
			return errors.Wrapf(err, "failed to write block of model %s", m.Hash())
		}
		numModels++
	}

	if _, err := w.Write(binary.LittleEndian.AppendUint32(nil, checksum.Sum32())); err != nil {
		return errors.Wrap(err, "failed to write compact dataset trailer")
	}
	klog.V(1).Infof("Wrote %d models in compact format version %d", numModels, FormatVersion)
	return nil
}

// appendBlock appends the encoding of the model m to buf.
func appendBlock(buf []byte, m *dataset.Model) ([]byte, error) {
	hash := m.Hash()
	buf = append(buf, hash[:]...)
	spec := m.Spec()
	buf = append(buf, uint8(spec.NumVertices()))
	for _, op := range spec.Ops() {
		buf = append(buf, uint8(op))
	}
	buf = append(buf, spec.Matrix().PackBits()...)
	buf = binary.LittleEndian.AppendUint32(buf, m.TrainableParameters())

	epochsList := m.Epochs()
	if len(epochsList) > math.MaxUint8 {
		return nil, errors.Errorf("model %s has %d epoch budgets, the compact format supports at most %d",
			hash, len(epochsList), math.MaxUint8)
	}
	buf = append(buf, uint8(len(epochsList)))
	for _, epochs := range epochsList {
		samples, err := m.Samples(epochs)
		if err != nil {
			return nil, err
		}
		if len(samples) > math.MaxUint16 {
			return nil, errors.Errorf("model %s has %d samples for %d epochs, the compact format supports at most %d",
				hash, len(samples), epochs, math.MaxUint16)
		}
		buf = append(buf, epochs)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(samples)))
		for _, sample := range samples {
			buf = appendStats(buf, sample.Halfway)
			buf = appendStats(buf, sample.Complete)
		}
	}
	return buf, nil
}

func appendStats(buf []byte, stats dataset.EpochStats) []byte {
	for _, value := range [4]float64{stats.TrainingTime, stats.TrainAccuracy, stats.ValidationAccuracy, stats.TestAccuracy} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(value))
	}
	return buf
}

// Read an Index from a compact file, see Decoder.
func Read(r io.Reader) (*dataset.Index, error) {
	return NewDecoder(r).Decode()
}

// Decoder reads an Index in the compact format.
type Decoder struct {
	r            io.Reader
	verifyHashes bool
}

// NewDecoder returns a Decoder reading from r. It buffers r internally.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// WithHashVerification configures the Decoder to recompute the canonical hash of every model
// and fail if it differs from the stored one. It is slower, and off by default.
func (d *Decoder) WithHashVerification(verify bool) *Decoder {
	d.verifyHashes = verify
	return d
}

// Decode reads the whole input. Any inconsistency is reported as ErrCorruptData, and no Index
// is returned.
func (d *Decoder) Decode() (*dataset.Index, error) {
	buffered := bufio.NewReader(d.r)
	checksum := crc32.NewIEEE()
	body := io.TeeReader(buffered, checksum)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(body, header); err != nil {
		return nil, errors.Wrapf(ErrCorruptData, "failed to read header: %v", err)
	}
	if string(header[:len(Magic)]) != Magic {
		return nil, errors.Wrapf(ErrCorruptData, "invalid magic %q, not a compact dataset", header[:len(Magic)])
	}
	version := binary.LittleEndian.Uint16(header[len(Magic):])
	if version != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptData, "unknown format version %d, only version %d is supported", version, FormatVersion)
	}
	numModels := int(binary.LittleEndian.Uint32(header[len(Magic)+2:]))
	klog.V(1).Infof("Reading %d models from compact dataset (version %d)", numModels, version)

	builder := dataset.NewBuilder()
	lengthBuf := make([]byte, 4)
	var block []byte
	for blockIdx := range numModels {
		if _, err := io.ReadFull(body, lengthBuf); err != nil {
			return nil, errors.Wrapf(ErrCorruptData, "block %d of %d: failed to read length: %v", blockIdx, numModels, err)
		}
		length := int(binary.LittleEndian.Uint32(lengthBuf))
		if length > maxBlockSize {
			return nil, errors.Wrapf(ErrCorruptData, "block %d of %d: length %d larger than the maximum %d", blockIdx, numModels, length, maxBlockSize)
		}
		if cap(block) < length {
			block = make([]byte, length)
		}
		block = block[:length]
		if _, err := io.ReadFull(body, block); err != nil {
			return nil, errors.Wrapf(ErrCorruptData, "block %d of %d: failed to read %d bytes: %v", blockIdx, numModels, length, err)
		}
		if err := d.decodeBlock(builder, block); err != nil {
			return nil, errors.WithMessagef(err, "block %d of %d", blockIdx, numModels)
		}
	}

	want := checksum.Sum32()
	trailer := make([]byte, trailerSize)
	if _, err := io.ReadFull(buffered, trailer); err != nil {
		return nil, errors.Wrapf(ErrCorruptData, "failed to read checksum: %v", err)
	}
	if got := binary.LittleEndian.Uint32(trailer); got != want {
		return nil, errors.Wrapf(ErrCorruptData, "checksum mismatch: stored %08x, computed %08x", got, want)
	}
	if _, err := buffered.ReadByte(); err != io.EOF {
		return nil, errors.Wrap(ErrCorruptData, "unexpected data after the checksum")
	}
	return builder.Build()
}

// decodeBlock decodes one model and adds it to builder.
func (d *Decoder) decodeBlock(builder *dataset.Builder, block []byte) error {
	br := &blockReader{buf: block}
	var hash cell.Hash
	copy(hash[:], br.bytes(cell.HashSize))
	numVertices := int(br.u8())
	ops := make([]cell.Op, 0, numVertices)
	for _, b := range br.bytes(numVertices) {
		ops = append(ops, cell.Op(b))
	}
	packed := br.bytes(cell.PackedSize(numVertices))
	trainableParameters := br.u32()
	numEpochs := int(br.u8())
	if br.err != nil {
		return br.err
	}

	matrix, err := cell.UnpackMatrix(numVertices, packed)
	if err != nil {
		return errors.Wrapf(ErrCorruptData, "model %s: %v", hash, err)
	}
	spec, err := cell.NewModelSpec(ops, matrix)
	if err != nil {
		return errors.Wrapf(ErrCorruptData, "model %s: %v", hash, err)
	}
	if pruned, err := spec.Prune(); err != nil || !pruned.Equal(spec) {
		return errors.Wrapf(ErrCorruptData, "model %s: stored cell %s is not pruned", hash, spec)
	}
	if d.verifyHashes {
		if got, err := spec.Hash(); err != nil || got != hash {
			return errors.Wrapf(ErrCorruptData, "model %s: stored cell %s hashes to %s", hash, spec, got)
		}
	}
	if builder.Has(hash) {
		return errors.Wrapf(ErrCorruptData, "model %s stored more than once", hash)
	}
	if numEpochs == 0 {
		return errors.Wrapf(ErrCorruptData, "model %s has no statistics", hash)
	}

	var previousEpochs uint8
	for range numEpochs {
		epochs := br.u8()
		numSamples := int(br.u16())
		if br.err != nil {
			return br.err
		}
		if epochs <= previousEpochs {
			return errors.Wrapf(ErrCorruptData, "model %s: epoch budgets out of order (%d after %d)", hash, epochs, previousEpochs)
		}
		previousEpochs = epochs
		if numSamples == 0 {
			return errors.Wrapf(ErrCorruptData, "model %s: no samples for %d epochs", hash, epochs)
		}
		evaluations := make([]dataset.Evaluation, numSamples)
		for ii := range evaluations {
			evaluations[ii].Halfway = br.stats()
			evaluations[ii].Complete = br.stats()
		}
		if br.err != nil {
			return br.err
		}
		if err := builder.Add(hash, spec, trainableParameters, epochs, evaluations...); err != nil {
			return err
		}
	}
	if br.pos != len(block) {
		return errors.Wrapf(ErrCorruptData, "model %s: block has %d bytes, but only %d were used", hash, len(block), br.pos)
	}
	return nil
}

// blockReader decodes the fields of a block. After the first read past the end of the block,
// err is set and all further reads return zero values.
type blockReader struct {
	buf []byte
	pos int
	err error
}

func (br *blockReader) bytes(n int) []byte {
	if br.err != nil {
		return make([]byte, n)
	}
	if br.pos+n > len(br.buf) {
		br.err = errors.Wrapf(ErrCorruptData, "block truncated: reading %d bytes at offset %d of a %d bytes block", n, br.pos, len(br.buf))
		return make([]byte, n)
	}
	b := br.buf[br.pos : br.pos+n]
	br.pos += n
	return b
}

func (br *blockReader) u8() uint8 {
	return br.bytes(1)[0]
}

func (br *blockReader) u16() uint16 {
	return binary.LittleEndian.Uint16(br.bytes(2))
}

func (br *blockReader) u32() uint32 {
	return binary.LittleEndian.Uint32(br.bytes(4))
}

func (br *blockReader) f64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(br.bytes(8)))
}

func (br *blockReader) stats() dataset.EpochStats {
	return dataset.EpochStats{
		TrainingTime:       br.f64(),
		TrainAccuracy:      br.f64(),
		ValidationAccuracy: br.f64(),
		TestAccuracy:       br.f64(),
	}
}
