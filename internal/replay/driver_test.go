package replay

import (
	"testing"
	"time"

	"main/internal/schedule"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/stretchr/testify/require"
)

type bookCall struct {
	op       string
	orderID  int64
	quantity int64
	price    int64
	isBuy    bool
}

type fakeBook struct {
	resting map[int64]int64
	calls   []bookCall
}

func newFakeBook() *fakeBook {
	return &fakeBook{resting: make(map[int64]int64)}
}

func (b *fakeBook) RestingOrder(orderID int64) (int64, bool) {
	qty, ok := b.resting[orderID]
	return qty, ok
}

func (b *fakeBook) PlaceLimitOrder(_ string, quantity int64, isBuy bool, price int64, orderID int64) {
	b.resting[orderID] = quantity
	b.calls = append(b.calls, bookCall{op: "place", orderID: orderID, quantity: quantity, price: price, isBuy: isBuy})
}

func (b *fakeBook) CancelOrder(orderID int64) {
	delete(b.resting, orderID)
	b.calls = append(b.calls, bookCall{op: "cancel", orderID: orderID})
}

func (b *fakeBook) ModifyOrder(orderID int64, _ string, quantity int64, isBuy bool, price int64) {
	b.resting[orderID] = quantity
	b.calls = append(b.calls, bookCall{op: "modify", orderID: orderID, quantity: quantity, price: price, isBuy: isBuy})
}

func (b *fakeBook) PlaceMarketOrder(_ string, quantity int64, isBuy bool, orderID int64) {
	b.calls = append(b.calls, bookCall{op: "market", orderID: orderID, quantity: quantity, isBuy: isBuy})
}

type fakeKernel struct {
	scheduled []int64
}

func (k *fakeKernel) ScheduleWakeup(tsNano int64) {
	k.scheduled = append(k.scheduled, tsNano)
}

func mustSchedule(t *testing.T, events ...schema.Event) *schedule.Schedule {
	t.Helper()
	s, err := schedule.Build(events, 0, int64(time.Hour))
	require.NoError(t, err)
	return s
}

func TestLifecyclePlaceThenCancel(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 2000, OrderID: 7, Size: 0, Price: 0, Direction: schema.DirectionBuy, Kind: schema.KindCancel},
	)
	book := newFakeBook()
	kernel := &fakeKernel{}
	driver := NewDriver(s, book, kernel, Config{Symbol: "ABM"})

	require.Equal(t, int64(1000), driver.FirstWakeup())

	require.NoError(t, driver.OnWakeup(1000))
	require.Equal(t, []bookCall{{op: "place", orderID: 7, quantity: 100, price: 101, isBuy: true}}, book.calls)
	require.Equal(t, []int64{2000}, kernel.scheduled)

	require.NoError(t, driver.OnWakeup(2000))
	require.Equal(t, bookCall{op: "cancel", orderID: 7}, book.calls[1])
	require.Len(t, book.calls, 2)
	require.True(t, driver.Done())
	require.Len(t, kernel.scheduled, 1, "terminal state schedules nothing")

	// Abandoned-driver tolerance: further wake-ups are silent no-ops.
	require.NoError(t, driver.OnWakeup(3000))
	require.Len(t, book.calls, 2)
}

func TestLifecycleCancelOnZeroSize(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 5, Size: 80, Price: 99, Direction: schema.DirectionSell, Kind: schema.KindResting},
		schema.Event{TsNano: 2000, OrderID: 5, Size: 0, Price: 99, Direction: schema.DirectionSell, Kind: schema.KindResting},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM"})

	require.NoError(t, driver.OnWakeup(1000))
	require.NoError(t, driver.OnWakeup(2000))
	require.Equal(t, "place", book.calls[0].op)
	require.Equal(t, "cancel", book.calls[1].op)
}

func TestModifySizePolicies(t *testing.T) {
	base := []schema.Event{
		{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		{TsNano: 2000, OrderID: 7, Size: 30, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindModify},
	}

	t.Run("absolute", func(t *testing.T) {
		book := newFakeBook()
		driver := NewDriver(mustSchedule(t, base...), book, &fakeKernel{}, Config{Symbol: "ABM", SizePolicy: SizePolicyAbsolute})
		require.NoError(t, driver.OnWakeup(1000))
		require.NoError(t, driver.OnWakeup(2000))
		require.Equal(t, bookCall{op: "modify", orderID: 7, quantity: 30, price: 101, isBuy: true}, book.calls[1])
	})

	t.Run("delta", func(t *testing.T) {
		book := newFakeBook()
		driver := NewDriver(mustSchedule(t, base...), book, &fakeKernel{}, Config{Symbol: "ABM", SizePolicy: SizePolicyDelta})
		require.NoError(t, driver.OnWakeup(1000))
		require.NoError(t, driver.OnWakeup(2000))
		require.Equal(t, bookCall{op: "modify", orderID: 7, quantity: 70, price: 101, isBuy: true}, book.calls[1])
	})
}

func TestRejectBookkeepingOnly(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 3, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindReject},
		schema.Event{TsNano: 2000, OrderID: 4, Size: 40, Price: 50, Direction: schema.DirectionSell, Kind: schema.KindReject},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM", StartingCash: 1_000_000})

	require.NoError(t, driver.OnWakeup(1000))
	require.Equal(t, int64(1_000_000-100*101), driver.Cash())
	require.Equal(t, int64(100), driver.Holdings("ABM"))

	require.NoError(t, driver.OnWakeup(2000))
	require.Equal(t, int64(1_000_000-100*101+40*50), driver.Cash())
	require.Equal(t, int64(60), driver.Holdings("ABM"))

	require.Empty(t, book.calls, "rejects never touch the order book")
}

func TestCompensationIsUnconditionalMarketOrder(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 12, Size: 100, Price: 101, Direction: schema.DirectionSell, Kind: schema.KindCompensation},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM"})

	require.NoError(t, driver.OnWakeup(1000))
	require.Equal(t, []bookCall{{op: "market", orderID: 12, quantity: 100, isBuy: false}}, book.calls)
}

func TestUnclassifiedKindNeverMutatesRestingOrder(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 2000, OrderID: 7, Size: 40, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindUnknown},
		schema.Event{TsNano: 3000, OrderID: 7, Size: 0, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindUnknown},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM"})

	require.NoError(t, driver.OnWakeup(1000))
	require.NoError(t, driver.OnWakeup(2000))
	require.NoError(t, driver.OnWakeup(3000))
	require.Equal(t, []bookCall{{op: "place", orderID: 7, quantity: 100, price: 101, isBuy: true}}, book.calls,
		"unclassified kinds must not cancel or modify a resting order")
}

func TestDuplicateNewForRestingOrderIsNoOp(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 2000, OrderID: 7, Size: 40, Price: 102, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM"})

	require.NoError(t, driver.OnWakeup(1000))
	require.NoError(t, driver.OnWakeup(2000))
	require.Len(t, book.calls, 1, "a second NEW for a live order must not modify it")
}

func TestUnhandledKindIsObservableNoOp(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 9, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindUnknown},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM"})

	require.NoError(t, driver.OnWakeup(1000))
	require.Empty(t, book.calls, "unknown kinds must not mutate the book")
	require.True(t, driver.Done())
}

func TestOnOrderFilledRecordsTrade(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	driver := NewDriver(s, newFakeBook(), &fakeKernel{}, Config{Symbol: "ABM"})

	driver.OnOrderFilled(Fill{OrderID: 7, Quantity: 100, FillPrice: 102, IsBuy: true}, 1500)
	require.Equal(t, Trade{Price: 102, Quantity: 100}, driver.ExecutedTrades()[1500])
	require.Equal(t, int64(102), driver.LastTrade())
}

func TestRestorationQueueSelection(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 1, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 5000, OrderID: 2, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)

	t.Run("restoration head earlier wins", func(t *testing.T) {
		kernel := &fakeKernel{}
		driver := NewDriver(s, newFakeBook(), kernel, Config{Symbol: "ABM", ImpactConservation: true})
		driver.restoration = []int64{3000}
		driver.overlay[3000] = []schema.Event{{TsNano: 3000, OrderID: -1, Size: 10, Direction: schema.DirectionSell, Kind: schema.KindRestore}}

		require.NoError(t, driver.OnWakeup(1000))
		require.Equal(t, []int64{3000}, kernel.scheduled)
	})

	t.Run("primary head earlier wins", func(t *testing.T) {
		kernel := &fakeKernel{}
		driver := NewDriver(s, newFakeBook(), kernel, Config{Symbol: "ABM", ImpactConservation: true})
		driver.restoration = []int64{7000}

		require.NoError(t, driver.OnWakeup(1000))
		require.Equal(t, []int64{5000}, kernel.scheduled)
	})

	t.Run("equal heads raise the defect signal", func(t *testing.T) {
		kernel := &fakeKernel{}
		driver := NewDriver(s, newFakeBook(), kernel, Config{Symbol: "ABM", ImpactConservation: true})
		driver.restoration = []int64{5000}

		err := driver.OnWakeup(1000)
		require.ErrorIs(t, err, exception.ErrHeadCollision)
		require.Empty(t, kernel.scheduled)
	})

	t.Run("conservation disabled ignores restoration queue", func(t *testing.T) {
		kernel := &fakeKernel{}
		driver := NewDriver(s, newFakeBook(), kernel, Config{Symbol: "ABM"})
		driver.restoration = []int64{3000}

		require.NoError(t, driver.OnWakeup(1000))
		require.Equal(t, []int64{5000}, kernel.scheduled)
	})
}

func TestImpactConservationSchedulesRestore(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 5000, OrderID: 8, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	book := newFakeBook()
	kernel := &fakeKernel{}
	driver := NewDriver(s, book, kernel, Config{Symbol: "ABM", ImpactConservation: true, RestoreTag: "restore"})

	require.NoError(t, driver.OnWakeup(1000))
	driver.OnOrderFilled(Fill{OrderID: 7, Quantity: 100, FillPrice: 101, IsBuy: true, Tag: "restore"}, 1500)

	require.Len(t, driver.restoration, 1)
	ts := driver.restoration[0]
	require.Greater(t, ts, int64(5000), "give-back lands strictly after the primary head")

	synth := driver.overlay[ts]
	require.Len(t, synth, 1)
	require.Equal(t, int64(-7), synth[0].OrderID, "synthetic ids are negative and disjoint")
	require.Equal(t, schema.DirectionSell, synth[0].Direction, "opposite side of the fill")
	require.Equal(t, int64(100), synth[0].Size)
	require.Equal(t, schema.KindRestore, synth[0].Kind)

	// The give-back dispatches as a market order when its time comes.
	require.NoError(t, driver.OnWakeup(5000))
	require.Equal(t, []int64{5000, ts}, kernel.scheduled)
	require.NoError(t, driver.OnWakeup(ts))
	last := book.calls[len(book.calls)-1]
	require.Equal(t, "market", last.op)
	require.Equal(t, int64(-7), last.orderID)
	require.True(t, driver.Done())
}

func TestImpactConservationAvoidsScheduledKeys(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 2000, OrderID: 8, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 2000 + int64(time.Microsecond), OrderID: 9, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	driver := NewDriver(s, newFakeBook(), &fakeKernel{}, Config{Symbol: "ABM", ImpactConservation: true, RestoreTag: "restore"})

	// Fill arrives before the first wake-up fires; the primary head is 2000 and
	// 2000+1us is taken by a real key, so the give-back slides one nanosecond
	// further.
	driver.OnOrderFilled(Fill{OrderID: 7, Quantity: 100, FillPrice: 101, IsBuy: true, Tag: "restore"}, 1500)
	require.Equal(t, []int64{2000 + int64(time.Microsecond) + 1}, driver.restoration)
}

func TestRestoreLandsAfterInFlightWakeup(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
		schema.Event{TsNano: 5000, OrderID: 8, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	kernel := &fakeKernel{}
	driver := NewDriver(s, newFakeBook(), kernel, Config{Symbol: "ABM", ImpactConservation: true, RestoreTag: "restore"})

	// The wake-up at 5000 is already registered with the kernel when the fill
	// arrives; a give-back before it would never be delivered.
	require.NoError(t, driver.OnWakeup(1000))
	require.Equal(t, []int64{5000}, kernel.scheduled)
	driver.OnOrderFilled(Fill{OrderID: 7, Quantity: 100, FillPrice: 101, IsBuy: true, Tag: "restore"}, 1500)
	require.Equal(t, []int64{5000 + int64(time.Microsecond)}, driver.restoration)
}

func TestFillWithoutRestoreTagDoesNotRestore(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 7, Size: 100, Price: 101, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	driver := NewDriver(s, newFakeBook(), &fakeKernel{}, Config{Symbol: "ABM", ImpactConservation: true, RestoreTag: "restore"})

	driver.OnOrderFilled(Fill{OrderID: 7, Quantity: 100, FillPrice: 101, IsBuy: true, Tag: "plain"}, 1500)
	require.Empty(t, driver.restoration)
}

func TestOverlayDispatchesAfterBaseEvents(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: 1000, OrderID: 1, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	book := newFakeBook()
	driver := NewDriver(s, book, &fakeKernel{}, Config{Symbol: "ABM", ImpactConservation: true})
	driver.overlay[1000] = []schema.Event{
		{TsNano: 1000, OrderID: -9, Size: 5, Direction: schema.DirectionSell, Kind: schema.KindRestore},
	}

	require.NoError(t, driver.OnWakeup(1000))
	require.Len(t, book.calls, 2)
	require.Equal(t, bookCall{op: "place", orderID: 1, quantity: 10, price: 100, isBuy: true}, book.calls[0])
	require.Equal(t, bookCall{op: "market", orderID: -9, quantity: 5, isBuy: false}, book.calls[1])
}

func TestWakeFrequency(t *testing.T) {
	s := mustSchedule(t,
		schema.Event{TsNano: int64(10 * time.Minute), OrderID: 1, Size: 10, Price: 100, Direction: schema.DirectionBuy, Kind: schema.KindNew},
	)
	driver := NewDriver(s, newFakeBook(), &fakeKernel{}, Config{Symbol: "ABM"})
	require.Equal(t, 10*time.Minute, driver.WakeFrequency(0))
}
