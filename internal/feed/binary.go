package feed

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Binary tabular snapshot layout: an 8-byte file header followed by
// fixed-width rows, each protected by a crc32 trailer.
//
//	header: magic "L3B1" | version uint16 | row size uint16
//	row:    ts int64 | order id int64 | size int64 | price int64 |
//	        direction flag int64 | type code int64 | crc32 uint32
const (
	binarySnapshotVersion uint16 = 1
	binaryRowSize                = 48
	binaryRowChecksumSize        = 4
	binaryHeaderSize             = 8
)

var (
	binarySnapshotMagic = [4]byte{'L', '3', 'B', '1'}
	binaryCrcTable      = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidSnapshotMagic   = errors.New("binary snapshot invalid magic")
	ErrUnsupportedSnapshotVer = errors.New("binary snapshot unsupported version")
)

// BinaryReader decodes a binary tabular snapshot into canonical events.
type BinaryReader struct {
	cfg Config
}

// NewBinaryReader validates the config and creates a reader.
func NewBinaryReader(cfg Config) (*BinaryReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BinaryReader{cfg: cfg}, nil
}

// Read decodes all rows in file order. Rows failing their checksum or the
// direction lookup are dropped; a broken file header is fatal.
func (r *BinaryReader) Read(src io.Reader) ([]schema.Event, error) {
	br := bufio.NewReader(src)

	var header [binaryHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, errors.Wrap(exception.ErrMalformedRecord, "binary snapshot header")
	}
	if !bytes.Equal(header[0:4], binarySnapshotMagic[:]) {
		return nil, ErrInvalidSnapshotMagic
	}
	if ver := binary.LittleEndian.Uint16(header[4:6]); ver != binarySnapshotVersion {
		return nil, ErrUnsupportedSnapshotVer
	}
	if rowSize := binary.LittleEndian.Uint16(header[6:8]); rowSize != binaryRowSize {
		return nil, errors.Wrapf(ErrUnsupportedSnapshotVer, "row size: %d", rowSize)
	}

	var (
		events  []schema.Event
		dropped int
		row     [binaryRowSize + binaryRowChecksumSize]byte
	)
	for {
		n, err := io.ReadFull(br, row[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			// Truncated tail, e.g. a partial write before a crash.
			dropped++
			break
		}

		expected := binary.LittleEndian.Uint32(row[binaryRowSize:])
		if crc32.Checksum(row[:binaryRowSize], binaryCrcTable) != expected {
			dropped++
			continue
		}

		event, err := r.decodeRow(row[:binaryRowSize])
		if err != nil {
			dropped++
			continue
		}
		events = append(events, event)
	}

	if dropped > 0 {
		logs.Warnf("binary feed: dropped %d rows", dropped)
	}
	return events, nil
}

func (r *BinaryReader) decodeRow(row []byte) (schema.Event, error) {
	size := int64(binary.LittleEndian.Uint64(row[16:24]))
	if size < 0 {
		return schema.Event{}, errors.Wrap(exception.ErrMalformedRecord, "size")
	}
	flag := int64(binary.LittleEndian.Uint64(row[32:40]))
	direction, ok := r.cfg.direction(flag)
	if !ok {
		return schema.Event{}, errors.Wrapf(exception.ErrUnknownDirection, "flag: %d", flag)
	}
	kind, ok := r.cfg.kindByCode(int64(binary.LittleEndian.Uint64(row[40:48])))
	if !ok {
		kind = schema.KindUnknown
	}

	return schema.Event{
		TsNano:    int64(binary.LittleEndian.Uint64(row[0:8])),
		OrderID:   int64(binary.LittleEndian.Uint64(row[8:16])),
		Size:      r.cfg.scaleSize(size),
		Price:     int64(binary.LittleEndian.Uint64(row[24:32])),
		Direction: direction,
		Kind:      kind,
	}, nil
}

// BinaryWriter is the encoding counterpart of BinaryReader. It produces
// snapshot fixtures in-process; the reader tests build their inputs with it.
type BinaryWriter struct {
	w           *bufio.Writer
	headerDone  bool
	row         [binaryRowSize + binaryRowChecksumSize]byte
	writeHeader func() error
}

// NewBinaryWriter wraps an io.Writer with snapshot encoding.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	bw := &BinaryWriter{w: bufio.NewWriter(w)}
	bw.writeHeader = func() error {
		var header [binaryHeaderSize]byte
		copy(header[0:4], binarySnapshotMagic[:])
		binary.LittleEndian.PutUint16(header[4:6], binarySnapshotVersion)
		binary.LittleEndian.PutUint16(header[6:8], binaryRowSize)
		_, err := bw.w.Write(header[:])
		return err
	}
	return bw
}

// WriteRow appends one raw row.
func (w *BinaryWriter) WriteRow(tsNano, orderID, size, price, directionFlag, typeCode int64) error {
	if !w.headerDone {
		if err := w.writeHeader(); err != nil {
			return err
		}
		w.headerDone = true
	}

	binary.LittleEndian.PutUint64(w.row[0:8], uint64(tsNano))
	binary.LittleEndian.PutUint64(w.row[8:16], uint64(orderID))
	binary.LittleEndian.PutUint64(w.row[16:24], uint64(size))
	binary.LittleEndian.PutUint64(w.row[24:32], uint64(price))
	binary.LittleEndian.PutUint64(w.row[32:40], uint64(directionFlag))
	binary.LittleEndian.PutUint64(w.row[40:48], uint64(typeCode))
	sum := crc32.Checksum(w.row[:binaryRowSize], binaryCrcTable)
	binary.LittleEndian.PutUint32(w.row[binaryRowSize:], sum)

	_, err := w.w.Write(w.row[:])
	return err
}

// Flush writes any buffered rows through.
func (w *BinaryWriter) Flush() error {
	if !w.headerDone {
		if err := w.writeHeader(); err != nil {
			return err
		}
		w.headerDone = true
	}
	return w.w.Flush()
}
