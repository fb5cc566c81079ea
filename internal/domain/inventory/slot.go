package inventory

import (
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
)

var (
	ErrSlotNotFound      = fmt.Errorf("inventory: slot %w", fault.ErrNotFound)
	ErrMachineNotFound   = fmt.Errorf("inventory: machine %w", fault.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("inventory: %w: quantity must be greater than zero", fault.ErrInvalidInput)
	ErrInsufficientStock = fmt.Errorf("inventory: %w", fault.ErrInsufficientStock)
)

// Slot is an addressable dispensing position inside a vending machine. The
// lifecycle engine mutates it only through the repository's atomic
// decrement/restore contract; 0 <= Quantity <= MaxCapacity always holds.
type Slot struct {
	SlotID      string `bson:"slot_id"`
	ProductID   string `bson:"product_id"`
	Quantity    int    `bson:"quantity"`
	MaxCapacity int    `bson:"max_capacity"`
	Price       int64  `bson:"price"`
}

// Machine is the slot-carrying document; catalog fields beyond the slots are
// owned by the catalog CRUD and treated as read-only here.
type Machine struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name,omitempty"`
	Slots     []Slot    `bson:"slots"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Deduct validates and applies a stock decrement on the in-memory entity.
// Repositories that cannot push the check into the store (the memory fake)
// call this under their own lock.
func (s *Slot) Deduct(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > s.Quantity {
		return ErrInsufficientStock
	}
	s.Quantity -= qty
	return nil
}

// Restore puts stock back, capped at max capacity.
func (s *Slot) Restore(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.Quantity += qty
	if s.Quantity > s.MaxCapacity {
		s.Quantity = s.MaxCapacity
	}
	return nil
}

func (m *Machine) Clone() *Machine {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Slots = append([]Slot(nil), m.Slots...)
	return &clone
}
