package cart

import (
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
)

var (
	ErrNotFound        = fmt.Errorf("cart: %w", fault.ErrNotFound)
	ErrLineNotFound    = fmt.Errorf("cart: line %w", fault.ErrNotFound)
	ErrInvalidQuantity = fmt.Errorf("cart: %w: quantity must be greater than zero", fault.ErrInvalidInput)
	ErrInvalidPrice    = fmt.Errorf("cart: %w: unit price must be zero or greater", fault.ErrInvalidInput)
)

// TTL is how long an untouched cart stays eligible for pickup before the
// persistence layer garbage-collects it.
const TTL = 24 * time.Hour

// Line is one selection in a cart, keyed by (product, machine, slot).
type Line struct {
	ProductID   string    `bson:"product_id"`
	ProductName string    `bson:"product_name"`
	MachineID   string    `bson:"machine_id"`
	SlotID      string    `bson:"slot_id"`
	Quantity    int       `bson:"quantity"`
	UnitPrice   int64     `bson:"unit_price"`
	LineTotal   int64     `bson:"line_total"`
	AddedAt     time.Time `bson:"added_at"`
}

func (l Line) sameKey(productID, machineID, slotID string) bool {
	return l.ProductID == productID && l.MachineID == machineID && l.SlotID == slotID
}

// Cart holds a user's pending selections. ItemCount and TotalAmount are
// derived and recomputed on every mutation; they are never authoritative on
// their own.
type Cart struct {
	ID          string    `bson:"_id,omitempty"`
	UserID      string    `bson:"user_id"`
	Lines       []Line    `bson:"lines"`
	ItemCount   int       `bson:"item_count"`
	TotalAmount int64     `bson:"total_amount"`
	Active      bool      `bson:"active"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
	ExpiresAt   time.Time `bson:"expires_at"`
}

func New(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		UserID:    userID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(TTL),
	}
}

// AddLine merges the line into an existing entry with the same
// (product, machine, slot) key, or appends a new one. Adding a key twice
// increments quantity instead of duplicating the line.
func (c *Cart) AddLine(line Line) error {
	if line.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if line.UnitPrice < 0 {
		return ErrInvalidPrice
	}

	now := time.Now().UTC()
	for i := range c.Lines {
		if c.Lines[i].sameKey(line.ProductID, line.MachineID, line.SlotID) {
			c.Lines[i].Quantity += line.Quantity
			c.Lines[i].LineTotal = int64(c.Lines[i].Quantity) * c.Lines[i].UnitPrice
			c.recompute(now)
			return nil
		}
	}

	line.LineTotal = int64(line.Quantity) * line.UnitPrice
	line.AddedAt = now
	c.Lines = append(c.Lines, line)
	c.recompute(now)
	return nil
}

// RemoveLine deletes the matching line. Absent keys are a no-op so removal is
// idempotent.
func (c *Cart) RemoveLine(productID, machineID, slotID string) {
	for i := range c.Lines {
		if c.Lines[i].sameKey(productID, machineID, slotID) {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			break
		}
	}
	c.recompute(time.Now().UTC())
}

// UpdateLineQuantity sets the quantity of an existing line. A quantity of
// zero or less behaves as removal.
func (c *Cart) UpdateLineQuantity(productID, machineID, slotID string, quantity int) error {
	if quantity <= 0 {
		c.RemoveLine(productID, machineID, slotID)
		return nil
	}
	for i := range c.Lines {
		if c.Lines[i].sameKey(productID, machineID, slotID) {
			c.Lines[i].Quantity = quantity
			c.Lines[i].LineTotal = int64(quantity) * c.Lines[i].UnitPrice
			c.recompute(time.Now().UTC())
			return nil
		}
	}
	return ErrLineNotFound
}

// Clear empties all lines and zeroes the aggregates.
func (c *Cart) Clear() {
	c.Lines = nil
	c.recompute(time.Now().UTC())
}

// IsEmpty is derived from the line count; emptiness is never persisted.
func (c *Cart) IsEmpty() bool { return len(c.Lines) == 0 }

func (c *Cart) IsExpired(now time.Time) bool { return now.After(c.ExpiresAt) }

func (c *Cart) recompute(now time.Time) {
	count := 0
	var amount int64
	for _, l := range c.Lines {
		count += l.Quantity
		amount += l.LineTotal
	}
	c.ItemCount = count
	c.TotalAmount = amount
	c.UpdatedAt = now
	c.ExpiresAt = now.Add(TTL)
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Lines = append([]Line(nil), c.Lines...)
	return &clone
}
