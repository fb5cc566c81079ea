package order

import (
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/vendkit/vendcore/internal/domain/fault"
)

var (
	ErrNotFound             = fmt.Errorf("order: %w", fault.ErrNotFound)
	ErrLineNotFound         = fmt.Errorf("order: line %w", fault.ErrNotFound)
	ErrEmptyCart            = fmt.Errorf("order: %w: cart snapshot has no lines", fault.ErrInvalidInput)
	ErrNotCancellable       = fmt.Errorf("order: %w: only pending or confirmed orders can be cancelled", fault.ErrInvalidState)
	ErrCancelReasonRequired = fmt.Errorf("order: %w: cancellation reason is required", fault.ErrInvalidInput)
	ErrConflict             = fmt.Errorf("order: %w", fault.ErrConflict)
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusDispensing Status = "DISPENSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Line is a selection copied from the cart at checkout. It never re-reads the
// cart afterward and is immutable except for the dispensed flag.
type Line struct {
	ProductID          string     `bson:"product_id"`
	ProductName        string     `bson:"product_name"`
	ProductDescription string     `bson:"product_description,omitempty"`
	MachineID          string     `bson:"machine_id"`
	MachineName        string     `bson:"machine_name,omitempty"`
	SlotID             string     `bson:"slot_id"`
	Quantity           int        `bson:"quantity"`
	UnitPrice          int64      `bson:"unit_price"`
	LineTotal          int64      `bson:"line_total"`
	Dispensed          bool       `bson:"dispensed"`
	DispensedAt        *time.Time `bson:"dispensed_at,omitempty"`
}

// PaymentSummary projects the linked Payment's state into the order document
// for read models. It never drives the order status.
type PaymentSummary struct {
	PaymentID     string `bson:"payment_id,omitempty"`
	Method        string `bson:"method,omitempty"`
	Status        string `bson:"status,omitempty"`
	TransactionID string `bson:"transaction_id,omitempty"`
}

// DeliverySummary carries the machine-side view of the order.
type DeliverySummary struct {
	MachineID   string     `bson:"machine_id,omitempty"`
	MachineName string     `bson:"machine_name,omitempty"`
	DispensedAt *time.Time `bson:"dispensed_at,omitempty"`
}

type Order struct {
	ID           string          `bson:"_id"`
	UserID       string          `bson:"user_id"`
	Lines        []Line          `bson:"lines"`
	ItemCount    int             `bson:"item_count"`
	Subtotal     int64           `bson:"subtotal"`
	Tax          int64           `bson:"tax"`
	TotalAmount  int64           `bson:"total_amount"`
	Status       Status          `bson:"status"`
	Payment      PaymentSummary  `bson:"payment"`
	Delivery     DeliverySummary `bson:"delivery"`
	OrderDate    time.Time       `bson:"order_date"`
	CompletedAt  *time.Time      `bson:"completed_at,omitempty"`
	CancelledAt  *time.Time      `bson:"cancelled_at,omitempty"`
	CancelReason string          `bson:"cancel_reason,omitempty"`
	RefundedAt   *time.Time      `bson:"refunded_at,omitempty"`
	UpdatedAt    time.Time       `bson:"updated_at"`

	// Version backs the optimistic concurrency check the repositories apply
	// on update; concurrent writers to the same order serialize on it.
	Version int64 `bson:"version"`
}

// NewFromCart snapshots the cart into an immutable-line order in PENDING
// state. The order id is assigned exactly once, here. Tax policy is external;
// the caller supplies the computed tax.
func NewFromCart(snapshot *cart.Cart, paymentMethod string, tax int64) (*Order, error) {
	if snapshot == nil || snapshot.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if tax < 0 {
		return nil, fmt.Errorf("order: %w: tax must be zero or greater", fault.ErrInvalidInput)
	}

	lines := make([]Line, 0, len(snapshot.Lines))
	count := 0
	var subtotal int64
	machineID := ""
	for _, cl := range snapshot.Lines {
		lines = append(lines, Line{
			ProductID:   cl.ProductID,
			ProductName: cl.ProductName,
			MachineID:   cl.MachineID,
			SlotID:      cl.SlotID,
			Quantity:    cl.Quantity,
			UnitPrice:   cl.UnitPrice,
			LineTotal:   cl.LineTotal,
		})
		count += cl.Quantity
		subtotal += cl.LineTotal
		machineID = cl.MachineID
	}

	now := time.Now().UTC()
	return &Order{
		ID:          NewID(),
		UserID:      snapshot.UserID,
		Lines:       lines,
		ItemCount:   count,
		Subtotal:    subtotal,
		Tax:         tax,
		TotalAmount: subtotal + tax,
		Status:      StatusPending,
		Payment:     PaymentSummary{Method: paymentMethod},
		Delivery:    DeliverySummary{MachineID: machineID},
		OrderDate:   now,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// UpdateStatus sets the status without a transition table; the payment and
// dispense flows own the sequencing. Cancellation is the only gated exit and
// goes through Cancel.
func (o *Order) UpdateStatus(status Status, reason string) {
	o.Status = status
	now := time.Now().UTC()
	switch status {
	case StatusCompleted:
		o.CompletedAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
		o.CancelReason = reason
	case StatusRefunded:
		o.RefundedAt = &now
	}
	o.touch(now)
}

// CanBeCancelled is true only before dispensing has started.
func (o *Order) CanBeCancelled() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// Cancel transitions the order to CANCELLED. A reason is required and stored.
func (o *Order) Cancel(reason string) error {
	if !o.CanBeCancelled() {
		return ErrNotCancellable
	}
	if reason == "" {
		return ErrCancelReasonRequired
	}
	o.UpdateStatus(StatusCancelled, reason)
	return nil
}

// MarkLineDispensed flags the matching line as dispensed. Re-marking an
// already-dispensed line is a no-op. When the last undispensed line is
// marked, the order auto-transitions to COMPLETED and stamps both the
// completion time and the delivery summary's actual-dispense time; this is
// the sole automatic transition in the machine.
func (o *Order) MarkLineDispensed(productID, slotID string) (allDispensed bool, err error) {
	idx := -1
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID && o.Lines[i].SlotID == slotID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrLineNotFound
	}

	now := time.Now().UTC()
	if !o.Lines[idx].Dispensed {
		o.Lines[idx].Dispensed = true
		o.Lines[idx].DispensedAt = &now
		o.touch(now)
	}

	if !o.AllDispensed() {
		return false, nil
	}
	if o.Status != StatusCompleted {
		o.Status = StatusCompleted
		o.CompletedAt = &now
		o.Delivery.DispensedAt = &now
		o.touch(now)
	}
	return true, nil
}

func (o *Order) AllDispensed() bool {
	for _, l := range o.Lines {
		if !l.Dispensed {
			return false
		}
	}
	return len(o.Lines) > 0
}

// SetPaymentSummary projects payment state into the embedded summary.
func (o *Order) SetPaymentSummary(s PaymentSummary) {
	o.Payment = s
	o.touch(time.Now().UTC())
}

// SetDeliveryInfo projects machine state into the embedded summary.
func (o *Order) SetDeliveryInfo(machineID, machineName string) {
	o.Delivery.MachineID = machineID
	o.Delivery.MachineName = machineName
	o.touch(time.Now().UTC())
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	return &clone
}
