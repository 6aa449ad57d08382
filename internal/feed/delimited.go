package feed

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Delimited column order, fixed per the venue's L3 export:
// Time | Type | Order_ID | Size | Price | Direction
const (
	colTime = iota
	colType
	colOrderID
	colSize
	colPrice
	colDirection
	delimitedColumns
)

// DelimitedReader decodes positional delimited text rows. The time column is
// a decimal seconds offset from Config.BaseTime. Malformed rows are dropped,
// never fatal for the batch.
type DelimitedReader struct {
	cfg   Config
	comma rune
}

// NewDelimitedReader validates the config and creates a reader.
func NewDelimitedReader(cfg Config) (*DelimitedReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DelimitedReader{cfg: cfg, comma: ','}, nil
}

// WithComma overrides the field separator.
func (r *DelimitedReader) WithComma(comma rune) *DelimitedReader {
	if comma != 0 {
		r.comma = comma
	}
	return r
}

// Read decodes all rows into canonical events, in file order.
func (r *DelimitedReader) Read(src io.Reader) ([]schema.Event, error) {
	cr := csv.NewReader(src)
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var (
		events  []schema.Event
		dropped int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dropped++
			continue
		}
		if len(row) < delimitedColumns {
			return nil, errors.Wrapf(exception.ErrMissingColumn, "want %d columns, got %d", delimitedColumns, len(row))
		}

		event, err := r.decodeRow(row)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, event)
	}

	if dropped > 0 {
		logs.Warnf("delimited feed: dropped %d malformed rows", dropped)
	}
	return events, nil
}

func (r *DelimitedReader) decodeRow(row []string) (schema.Event, error) {
	ts, err := r.decodeTime(row[colTime])
	if err != nil {
		return schema.Event{}, err
	}
	code, err := strconv.ParseInt(strings.TrimSpace(row[colType]), 10, 64)
	if err != nil {
		return schema.Event{}, errors.Wrap(exception.ErrMalformedRecord, "type code")
	}
	kind, ok := r.cfg.kindByCode(code)
	if !ok {
		kind = schema.KindUnknown
	}
	orderID, err := strconv.ParseInt(strings.TrimSpace(row[colOrderID]), 10, 64)
	if err != nil {
		return schema.Event{}, errors.Wrap(exception.ErrMalformedRecord, "order id")
	}
	size, err := strconv.ParseInt(strings.TrimSpace(row[colSize]), 10, 64)
	if err != nil || size < 0 {
		return schema.Event{}, errors.Wrap(exception.ErrMalformedRecord, "size")
	}
	price, err := ParseScaled(strings.TrimSpace(row[colPrice]), r.cfg.PriceScale)
	if err != nil {
		return schema.Event{}, err
	}
	flag, err := strconv.ParseInt(strings.TrimSpace(row[colDirection]), 10, 64)
	if err != nil {
		return schema.Event{}, errors.Wrap(exception.ErrMalformedRecord, "direction flag")
	}
	direction, ok := r.cfg.direction(flag)
	if !ok {
		return schema.Event{}, errors.Wrapf(exception.ErrUnknownDirection, "flag: %d", flag)
	}

	return schema.Event{
		TsNano:    ts,
		OrderID:   orderID,
		Size:      r.cfg.scaleSize(size),
		Price:     price,
		Direction: direction,
		Kind:      kind,
	}, nil
}

func (r *DelimitedReader) decodeTime(field string) (int64, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, errors.Wrap(exception.ErrMalformedRecord, "timestamp")
	}
	return r.cfg.BaseTime.UnixNano() + int64(math.Round(seconds*float64(nanosPerSecond))), nil
}

const nanosPerSecond = int64(1e9)

// ParseScaled converts decimal text into an integer scaled by 10^scale.
// Excess fraction digits are truncated toward zero.
func ParseScaled(text string, scale int) (int64, error) {
	if text == "" {
		return 0, errors.Wrap(exception.ErrMalformedRecord, "empty number")
	}
	d, err := decimal.New(text)
	if err != nil {
		return 0, errors.Wrapf(exception.ErrMalformedRecord, "number: %s", text)
	}
	return d.Shift(scale).IntPart(), nil
}
