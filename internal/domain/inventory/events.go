package inventory

import "time"

// StockDepletedEvent is emitted when a dispense empties a slot, so machine
// operators can be notified to restock.
type StockDepletedEvent struct {
	MachineID  string
	SlotID     string
	ProductID  string
	OccurredAt time.Time
}

func (StockDepletedEvent) EventName() string { return "inventory.stock_depleted" }
