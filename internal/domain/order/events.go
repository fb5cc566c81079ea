package order

import "time"

// OrderCreatedEvent is emitted once checkout has persisted the order.
type OrderCreatedEvent struct {
	OrderID     string
	UserID      string
	ItemCount   int
	TotalAmount int64
	OccurredAt  time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		ItemCount:   o.ItemCount,
		TotalAmount: o.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderCompletedEvent is emitted when the last line has been dispensed.
type OrderCompletedEvent struct {
	OrderID    string
	OccurredAt time.Time
}

func (OrderCompletedEvent) EventName() string { return "order.completed" }

func NewOrderCompletedEvent(o *Order) OrderCompletedEvent {
	return OrderCompletedEvent{OrderID: o.ID, OccurredAt: time.Now().UTC()}
}

// OrderCancelledEvent is emitted after a successful cancellation, stock
// compensation included.
type OrderCancelledEvent struct {
	OrderID    string
	Reason     string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order, reason string) OrderCancelledEvent {
	return OrderCancelledEvent{OrderID: o.ID, Reason: reason, OccurredAt: time.Now().UTC()}
}
