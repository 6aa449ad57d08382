package feed

import (
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// Config describes how one raw feed maps onto the canonical schema. Direction
// flags and type codes differ per venue (`{1:BUY,-1:SELL}` vs `{0:BUY,1:SELL}`),
// so the lookup tables are configuration, never hard-coded in a reader.
type Config struct {
	// BaseTime anchors feeds whose timestamps are offsets from session start.
	BaseTime time.Time
	// Direction maps the feed's buy/sell flag values onto sides.
	Direction map[int64]schema.Direction
	// TypeCodes maps numeric record-type codes onto canonical kinds.
	TypeCodes map[int64]schema.Kind
	// TypeNames maps symbolic record-type codes (R, Reject, ...) onto kinds.
	TypeNames map[string]schema.Kind
	// SizeMultiplier scales feed lots into units. 0 means no scaling.
	SizeMultiplier int64
	// PriceScale is the number of decimals folded into minor currency units
	// when prices arrive as decimal text.
	PriceScale int
}

// Validate checks if the feed config is usable.
func (c Config) Validate() error {
	if len(c.Direction) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "feed config: Direction table is empty")
	}
	if len(c.TypeCodes) == 0 && len(c.TypeNames) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "feed config: no record-type mapping")
	}
	if c.SizeMultiplier < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "feed config: SizeMultiplier must be >= 0")
	}
	if c.PriceScale < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "feed config: PriceScale must be >= 0")
	}
	return nil
}

func (c Config) direction(flag int64) (schema.Direction, bool) {
	d, ok := c.Direction[flag]
	return d, ok
}

func (c Config) kindByCode(code int64) (schema.Kind, bool) {
	k, ok := c.TypeCodes[code]
	return k, ok
}

func (c Config) kindByName(name string) (schema.Kind, bool) {
	k, ok := c.TypeNames[name]
	return k, ok
}

func (c Config) scaleSize(size int64) int64 {
	if c.SizeMultiplier <= 1 {
		return size
	}
	return size * c.SizeMultiplier
}
