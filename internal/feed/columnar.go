package feed

import (
	"io"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// columnarPayload mirrors the columnar snapshot export: one JSON array per
// column, all the same length. Column names follow the venue export.
type columnarPayload struct {
	Time    []int64           `json:"Time"`
	OrderID []int64           `json:"ORDER_ID"`
	Price   []decimal.Decimal `json:"PRICE"`
	Size    []int64           `json:"SIZE"`
	Flag    []int64           `json:"BUY_SELL_FLAG"`
	Type    []string          `json:"RECORD_TYPE"`
}

// ColumnarReader decodes a columnar JSON snapshot into canonical events.
type ColumnarReader struct {
	cfg Config
}

// NewColumnarReader validates the config and creates a reader.
func NewColumnarReader(cfg Config) (*ColumnarReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ColumnarReader{cfg: cfg}, nil
}

// Read decodes the snapshot. A missing column is a configuration error and
// fatal; individual rows failing direction or price decoding are dropped.
func (r *ColumnarReader) Read(src io.Reader) ([]schema.Event, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	var payload columnarPayload
	if err := sonic.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "decode columnar snapshot")
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}

	var (
		events  = make([]schema.Event, 0, len(payload.Time))
		dropped int
	)
	for i := range payload.Time {
		event, err := r.decodeRow(payload, i)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, event)
	}

	if dropped > 0 {
		logs.Warnf("columnar feed: dropped %d rows", dropped)
	}
	return events, nil
}

func (p columnarPayload) validate() error {
	switch {
	case p.Time == nil:
		return errors.Wrap(exception.ErrMissingColumn, "Time")
	case p.OrderID == nil:
		return errors.Wrap(exception.ErrMissingColumn, "ORDER_ID")
	case p.Price == nil:
		return errors.Wrap(exception.ErrMissingColumn, "PRICE")
	case p.Size == nil:
		return errors.Wrap(exception.ErrMissingColumn, "SIZE")
	case p.Flag == nil:
		return errors.Wrap(exception.ErrMissingColumn, "BUY_SELL_FLAG")
	case p.Type == nil:
		return errors.Wrap(exception.ErrMissingColumn, "RECORD_TYPE")
	}

	n := len(p.Time)
	if len(p.OrderID) != n || len(p.Price) != n || len(p.Size) != n || len(p.Flag) != n || len(p.Type) != n {
		return errors.Wrapf(exception.ErrMalformedRecord, "column lengths differ, rows: %d", n)
	}
	return nil
}

func (r *ColumnarReader) decodeRow(p columnarPayload, i int) (schema.Event, error) {
	direction, ok := r.cfg.direction(p.Flag[i])
	if !ok {
		return schema.Event{}, errors.Wrapf(exception.ErrUnknownDirection, "flag: %d", p.Flag[i])
	}
	kind, ok := r.cfg.kindByName(p.Type[i])
	if !ok {
		kind = schema.KindUnknown
	}
	price, err := ParseScaled(p.Price[i].String(), r.cfg.PriceScale)
	if err != nil {
		return schema.Event{}, err
	}

	// Reject exports carry signed base quantities; the magnitude is the size.
	size := p.Size[i]
	if size < 0 {
		size = -size
	}

	return schema.Event{
		TsNano:    p.Time[i],
		OrderID:   p.OrderID[i],
		Size:      r.cfg.scaleSize(size),
		Price:     price,
		Direction: direction,
		Kind:      kind,
	}, nil
}
