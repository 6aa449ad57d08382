package replay

import (
	"sort"
	"time"

	"main/internal/obs"
	"main/internal/schedule"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// SizePolicy selects how a modify event's size field is interpreted. The two
// feed families disagree: numeric-type-code feeds carry the quantity delta,
// flag-coded feeds carry the new absolute quantity. Both are preserved as
// explicit policies until the venue semantics are confirmed.
type SizePolicy uint8

const (
	// SizePolicyAbsolute treats the record size as the new resting quantity.
	SizePolicyAbsolute SizePolicy = iota
	// SizePolicyDelta treats the record size as a reduction: the replacement
	// quantity is the existing resting quantity minus the record size.
	SizePolicyDelta
)

// restoreOffsetNano pushes a synthesized give-back strictly past the queue
// heads before collision probing starts.
const restoreOffsetNano = int64(time.Microsecond)

// Config controls one replay driver instance.
type Config struct {
	Symbol     string
	SizePolicy SizePolicy
	// ImpactConservation gives fills on restore-tagged orders back to the
	// market via synthesized opposite-side events.
	ImpactConservation bool
	// RestoreTag marks fills that must be given back.
	RestoreTag string
	// StartingCash seeds the local cash ledger, minor currency units.
	StartingCash int64
}

// Trade is one recorded execution.
type Trade struct {
	Price    int64
	Quantity int64
}

// Driver walks an event schedule through the order lifecycle state machine.
// Single-threaded: all mutation happens inside OnWakeup and OnOrderFilled,
// driven by external kernel callbacks.
type Driver struct {
	cfg    Config
	book   Book
	kernel Kernel

	base    *schedule.Schedule
	overlay map[int64][]schema.Event

	pending     []int64
	pendingHead int
	restoration []int64
	// inFlight is the wake-up most recently handed to the kernel; a synthesized
	// give-back must land strictly after it or it would never be delivered.
	inFlight int64

	firstWakeup int64
	done        bool

	executed  map[int64]Trade
	lastTrade int64
	holdings  map[string]int64
	cash      int64

	journal Journal
	metrics *obs.Metrics
}

// NewDriver builds a driver over a processed schedule. The schedule's first
// key becomes the initial wake-up and is removed from the primary queue; the
// external kernel delivers it as the agent's first activation.
func NewDriver(s *schedule.Schedule, book Book, kernel Kernel, cfg Config) *Driver {
	keys := s.Keys()
	return &Driver{
		cfg:         cfg,
		book:        book,
		kernel:      kernel,
		base:        s,
		overlay:     make(map[int64][]schema.Event),
		pending:     keys,
		pendingHead: 1,
		inFlight:    keys[0],
		firstWakeup: keys[0],
		executed:    make(map[int64]Trade),
		holdings:    make(map[string]int64),
		cash:        cfg.StartingCash,
	}
}

// WithJournal attaches a bookkeeping journal.
func (d *Driver) WithJournal(journal Journal) *Driver {
	d.journal = journal
	return d
}

// WithMetrics attaches run metrics.
func (d *Driver) WithMetrics(metrics *obs.Metrics) *Driver {
	d.metrics = metrics
	return d
}

// FirstWakeup returns the earliest scheduled timestamp.
func (d *Driver) FirstWakeup() int64 {
	return d.firstWakeup
}

// WakeFrequency returns the desired initial wake-up offset from market open.
func (d *Driver) WakeFrequency(marketOpenNano int64) time.Duration {
	logs.Infof("replay driver first wake up: %d", d.firstWakeup)
	return time.Duration(d.firstWakeup - marketOpenNano)
}

// Done reports whether both queues are exhausted.
func (d *Driver) Done() bool {
	return d.done
}

// OnWakeup dispatches every event scheduled at now, then registers the next
// wake-up with the kernel. Equal heads across the two queues indicate a
// broken collision-resolution invariant upstream and abort the run.
func (d *Driver) OnWakeup(nowNano int64) error {
	if d.done {
		return nil
	}

	if events := d.eventsAt(nowNano); len(events) > 0 {
		start := time.Now()
		for _, event := range events {
			d.dispatch(nowNano, event)
		}
		d.metrics.ObserveDispatch(time.Since(start))
	}

	next, ok, err := d.nextWakeup()
	if err != nil {
		return err
	}
	if !ok {
		d.done = true
		logs.Infof("replay driver submitted all orders - last order @ %d", nowNano)
		return nil
	}
	d.inFlight = next
	d.kernel.ScheduleWakeup(next)
	return nil
}

// OnOrderFilled records an execution and, in impact-conservation mode,
// schedules a give-back for fills on restore-tagged orders.
func (d *Driver) OnOrderFilled(fill Fill, fillTimeNano int64) {
	d.executed[fillTimeNano] = Trade{Price: fill.FillPrice, Quantity: fill.Quantity}
	d.lastTrade = fill.FillPrice
	if d.journal != nil {
		if err := d.journal.Fill(fillTimeNano, fill.OrderID, fill.FillPrice, fill.Quantity, fill.IsBuy); err != nil {
			logs.Errorf("journal fill, err: %+v", err)
		}
	}

	if !d.cfg.ImpactConservation || fill.Tag != d.cfg.RestoreTag {
		return
	}
	d.scheduleRestore(fill, fillTimeNano)
}

// ExecutedTrades returns fills recorded so far, keyed by fill time.
func (d *Driver) ExecutedTrades() map[int64]Trade {
	return d.executed
}

// LastTrade returns the last execution price seen.
func (d *Driver) LastTrade() int64 {
	return d.lastTrade
}

// Holdings returns the local position for a symbol.
func (d *Driver) Holdings(symbol string) int64 {
	return d.holdings[symbol]
}

// Cash returns the local cash balance.
func (d *Driver) Cash() int64 {
	return d.cash
}

func (d *Driver) eventsAt(tsNano int64) []schema.Event {
	events := d.base.At(tsNano)
	if synth, ok := d.overlay[tsNano]; ok {
		merged := make([]schema.Event, 0, len(events)+len(synth))
		merged = append(merged, events...)
		merged = append(merged, synth...)
		return merged
	}
	return events
}

func (d *Driver) dispatch(nowNano int64, event schema.Event) {
	d.metrics.IncKind(event.Kind)
	switch event.Kind {
	case schema.KindReject:
		d.applyReject(nowNano, event)
		return
	case schema.KindCompensation, schema.KindRestore:
		d.book.PlaceMarketOrder(d.cfg.Symbol, event.Size, event.Direction == schema.DirectionBuy, event.OrderID)
		return
	}

	// Size-based cancel/modify inference applies to flag-coded resting records
	// only; explicit kinds dispatch by kind and everything else is an
	// observable no-op, never a book mutation.
	existing, exists := d.book.RestingOrder(event.OrderID)
	switch {
	case !exists && event.Size > 0 && (event.Kind == schema.KindNew || event.Kind == schema.KindResting):
		d.book.PlaceLimitOrder(d.cfg.Symbol, event.Size, event.Direction == schema.DirectionBuy, event.Price, event.OrderID)
	case exists && (event.Kind == schema.KindCancel || (event.Kind == schema.KindResting && event.Size == 0)):
		d.book.CancelOrder(event.OrderID)
	case exists && (event.Kind == schema.KindModify || (event.Kind == schema.KindResting && event.Size > 0)):
		quantity := event.Size
		if d.cfg.SizePolicy == SizePolicyDelta {
			quantity = existing - event.Size
		}
		d.book.ModifyOrder(event.OrderID, d.cfg.Symbol, quantity, event.Direction == schema.DirectionBuy, event.Price)
	default:
		logs.Warnf("unhandled event: kind=%s order=%d size=%d @ %d", event.Kind, event.OrderID, event.Size, nowNano)
	}
}

// applyReject performs local bookkeeping only; a rejected trade never touches
// the book, but the venue's position-holding obligation still moves cash and
// holdings until the compensation unwinds it.
func (d *Driver) applyReject(nowNano int64, event schema.Event) {
	notional := event.Size * event.Price
	switch event.Direction {
	case schema.DirectionBuy:
		d.cash -= notional
		d.holdings[d.cfg.Symbol] += event.Size
	case schema.DirectionSell:
		d.cash += notional
		d.holdings[d.cfg.Symbol] -= event.Size
	default:
		logs.Warnf("reject without direction: order=%d @ %d", event.OrderID, nowNano)
		return
	}
	if d.journal != nil {
		if err := d.journal.HoldingsUpdated(nowNano, d.cfg.Symbol, d.holdings[d.cfg.Symbol], d.cash); err != nil {
			logs.Errorf("journal holdings, err: %+v", err)
		}
	}
}

func (d *Driver) nextWakeup() (int64, bool, error) {
	primaryOK := d.pendingHead < len(d.pending)
	restoreOK := d.cfg.ImpactConservation && len(d.restoration) > 0

	switch {
	case !primaryOK && !restoreOK:
		return 0, false, nil
	case !restoreOK:
		return d.popPrimary(), true, nil
	case !primaryOK:
		return d.popRestoration(), true, nil
	}

	primary, restore := d.pending[d.pendingHead], d.restoration[0]
	if primary == restore {
		return 0, false, errors.Wrapf(exception.ErrHeadCollision, "ts: %d", primary)
	}
	if restore < primary {
		return d.popRestoration(), true, nil
	}
	return d.popPrimary(), true, nil
}

func (d *Driver) popPrimary() int64 {
	ts := d.pending[d.pendingHead]
	d.pendingHead++
	return ts
}

func (d *Driver) popRestoration() int64 {
	ts := d.restoration[0]
	d.restoration = d.restoration[1:]
	return ts
}

// scheduleRestore synthesizes the opposite-side give-back for a fill and
// inserts it into the overlay schedule and the restoration queue. The
// timestamp lands strictly after both queue heads and the in-flight wake-up,
// then is bumped by 1ns until it collides with nothing already scheduled.
func (d *Driver) scheduleRestore(fill Fill, fillTimeNano int64) {
	after := fillTimeNano
	if d.inFlight > after {
		after = d.inFlight
	}
	if d.pendingHead < len(d.pending) && d.pending[d.pendingHead] > after {
		after = d.pending[d.pendingHead]
	}
	if len(d.restoration) > 0 && d.restoration[0] > after {
		after = d.restoration[0]
	}

	ts := after + restoreOffsetNano
	for d.scheduled(ts) {
		ts++
	}

	direction := schema.DirectionSell
	if !fill.IsBuy {
		direction = schema.DirectionBuy
	}
	event := schema.Event{
		TsNano: ts,
		// Negative id: synthetic, disjoint from every real order id.
		OrderID:   -fill.OrderID,
		Size:      fill.Quantity,
		Price:     fill.FillPrice,
		Direction: direction,
		Kind:      schema.KindRestore,
	}

	d.overlay[ts] = append(d.overlay[ts], event)
	idx := sort.Search(len(d.restoration), func(i int) bool { return d.restoration[i] >= ts })
	d.restoration = append(d.restoration, 0)
	copy(d.restoration[idx+1:], d.restoration[idx:])
	d.restoration[idx] = ts

	d.metrics.IncRestore()
	logs.Infof("scheduled restore: order=%d size=%d @ %d", event.OrderID, event.Size, ts)
}

func (d *Driver) scheduled(tsNano int64) bool {
	if d.base.Has(tsNano) {
		return true
	}
	_, ok := d.overlay[tsNano]
	return ok
}
