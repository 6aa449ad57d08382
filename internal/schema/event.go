package schema

// SchemaVersion is the current cache/wire schema version.
const SchemaVersion uint16 = 1

// Direction is the side of an order-book action.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionBuy
	DirectionSell
)

// Flip returns the opposite direction. Unknown stays unknown.
func (d Direction) Flip() Direction {
	switch d {
	case DirectionBuy:
		return DirectionSell
	case DirectionSell:
		return DirectionBuy
	default:
		return DirectionUnknown
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies a canonical event. Numeric-type-code feeds map their codes
// onto New/Modify/Cancel at ingestion; flag-coded feeds use Resting; the
// reject feed uses Reject/Compensation; Restore events are synthesized at
// replay time and never come from a raw feed.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNew
	KindModify
	KindCancel
	KindResting
	KindReject
	KindCompensation
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "NEW"
	case KindModify:
		return "MODIFY"
	case KindCancel:
		return "CANCEL"
	case KindResting:
		return "R"
	case KindReject:
		return "REJECT"
	case KindCompensation:
		return "COMPENSATION"
	case KindRestore:
		return "RESTORE"
	default:
		return "UNKNOWN"
	}
}

// Event is one canonical order-book action, independent of source feed schema.
// TsNano is nanoseconds since the unix epoch and is unique within a schedule
// after collision resolution.
type Event struct {
	TsNano    int64
	OrderID   int64
	Size      int64
	Price     int64
	Direction Direction
	Kind      Kind
}
