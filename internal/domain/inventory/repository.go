package inventory

import "context"

// Repository is the narrow decrement/restore contract the lifecycle engine
// holds on vending-machine stock. DecrementSlot must check-and-decrement
// atomically against the current quantity (a conditional update, never a
// read-modify-write) and return ErrInsufficientStock when the result would
// go negative. RestoreSlot is an atomic increment capped at max capacity.
type Repository interface {
	GetSlot(ctx context.Context, machineID, slotID string) (*Slot, error)
	DecrementSlot(ctx context.Context, machineID, slotID string, qty int) error
	RestoreSlot(ctx context.Context, machineID, slotID string, qty int) error
}
