package replay

// Book is the downstream order-book surface the driver issues intents
// against. The resting-order table is owned by the book; the driver only
// queries existence at the instant of dispatch. Failures surface
// asynchronously as messages, so intents return nothing.
type Book interface {
	// RestingOrder reports the live quantity of a resting order, if any.
	RestingOrder(orderID int64) (quantity int64, ok bool)
	PlaceLimitOrder(symbol string, quantity int64, isBuy bool, price int64, orderID int64)
	CancelOrder(orderID int64)
	ModifyOrder(orderID int64, symbol string, quantity int64, isBuy bool, price int64)
	PlaceMarketOrder(symbol string, quantity int64, isBuy bool, orderID int64)
}

// Kernel registers the driver's next activation with the simulation clock.
type Kernel interface {
	ScheduleWakeup(tsNano int64)
}

// Fill is the ORDER_EXECUTED message body delivered back by the book.
type Fill struct {
	OrderID    int64
	Quantity   int64
	FillPrice  int64
	LimitPrice int64
	IsBuy      bool
	Tag        string
}

// Journal receives the driver's bookkeeping events. Implementations may
// persist them; a nil journal disables recording.
type Journal interface {
	Fill(tsNano, orderID, price, quantity int64, isBuy bool) error
	HoldingsUpdated(tsNano int64, symbol string, position, cash int64) error
}
