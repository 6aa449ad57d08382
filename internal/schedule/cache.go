package schedule

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// Cache file layout: an 8-byte header followed by one fixed-width record per
// event, in ascending key order. Every record carries its own crc32
// (Castagnoli) trailer, so a truncated or bit-flipped file fails loudly
// instead of replaying a damaged day.
//
//	header: magic "SCH1" | version uint16 | record size uint16
//	record: ts int64 | order id int64 | size int64 | price int64 |
//	        direction uint8 | kind uint8 | reserved uint16 | crc32 uint32
const (
	cacheVersion          uint16 = 1
	cacheHeaderSize              = 8
	cacheRecordSize              = 36
	cacheRecordChecksumSz        = 4
)

var (
	cacheMagic    = [4]byte{'S', 'C', 'H', '1'}
	cacheCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

// CachePath derives the deterministic cache location for a (symbol, date)
// pair.
func CachePath(dir, prefix, symbol string, date time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.sched", prefix, symbol, date.Format("2006-01-02")))
}

// WriteCache serializes the schedule. Writing the same schedule twice
// produces byte-identical files.
func WriteCache(path string, s *Schedule) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	buf := bufio.NewWriter(file)
	var header [cacheHeaderSize]byte
	copy(header[0:4], cacheMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], cacheVersion)
	binary.LittleEndian.PutUint16(header[6:8], cacheRecordSize)
	if _, err := buf.Write(header[:]); err != nil {
		_ = file.Close()
		return err
	}

	var record [cacheRecordSize + cacheRecordChecksumSz]byte
	for _, key := range s.keys {
		for _, event := range s.events[key] {
			encodeCacheRecord(&record, event)
			if _, err := buf.Write(record[:]); err != nil {
				_ = file.Close()
				return err
			}
		}
	}

	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// ReadCache deserializes a schedule. Bad magic, a failed checksum, a truncated
// tail and keys out of order all return ErrCacheCorrupt; regeneration is an
// operator decision, never automatic.
func ReadCache(path string) (*Schedule, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	br := bufio.NewReader(file)
	var header [cacheHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, errors.Wrap(exception.ErrCacheCorrupt, "header")
	}
	if !bytes.Equal(header[0:4], cacheMagic[:]) {
		return nil, errors.Wrap(exception.ErrCacheCorrupt, "magic")
	}
	if ver := binary.LittleEndian.Uint16(header[4:6]); ver != cacheVersion {
		return nil, errors.Wrapf(exception.ErrCacheCorrupt, "version: %d", ver)
	}
	if size := binary.LittleEndian.Uint16(header[6:8]); size != cacheRecordSize {
		return nil, errors.Wrapf(exception.ErrCacheCorrupt, "record size: %d", size)
	}

	s := &Schedule{events: make(map[int64][]schema.Event)}
	var (
		record [cacheRecordSize + cacheRecordChecksumSz]byte
		prevTS int64
		first  = true
	)
	for {
		n, err := io.ReadFull(br, record[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			return nil, errors.Wrap(exception.ErrCacheCorrupt, "truncated record")
		}

		expected := binary.LittleEndian.Uint32(record[cacheRecordSize:])
		if crc32.Checksum(record[:cacheRecordSize], cacheCrcTable) != expected {
			return nil, errors.Wrap(exception.ErrCacheCorrupt, "checksum mismatch")
		}

		event := decodeCacheRecord(record[:cacheRecordSize])
		if !first && event.TsNano < prevTS {
			return nil, errors.Wrap(exception.ErrCacheCorrupt, "keys out of order")
		}
		if first || event.TsNano > prevTS {
			s.keys = append(s.keys, event.TsNano)
		}
		s.events[event.TsNano] = append(s.events[event.TsNano], event)
		prevTS = event.TsNano
		first = false
	}

	if len(s.keys) == 0 {
		return nil, errors.Wrap(exception.ErrCacheCorrupt, "empty cache")
	}
	return s, nil
}

func encodeCacheRecord(dst *[cacheRecordSize + cacheRecordChecksumSz]byte, event schema.Event) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(event.TsNano))
	binary.LittleEndian.PutUint64(dst[8:16], uint64(event.OrderID))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(event.Size))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(event.Price))
	dst[32] = byte(event.Direction)
	dst[33] = byte(event.Kind)
	binary.LittleEndian.PutUint16(dst[34:36], 0)
	sum := crc32.Checksum(dst[:cacheRecordSize], cacheCrcTable)
	binary.LittleEndian.PutUint32(dst[cacheRecordSize:], sum)
}

func decodeCacheRecord(src []byte) schema.Event {
	return schema.Event{
		TsNano:    int64(binary.LittleEndian.Uint64(src[0:8])),
		OrderID:   int64(binary.LittleEndian.Uint64(src[8:16])),
		Size:      int64(binary.LittleEndian.Uint64(src[16:24])),
		Price:     int64(binary.LittleEndian.Uint64(src[24:32])),
		Direction: schema.Direction(src[32]),
		Kind:      schema.Kind(src[33]),
	}
}
