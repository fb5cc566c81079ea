package order

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/vendcore/internal/domain/cart"
)

func snapshotCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.New("user-1")
	require.NoError(t, c.AddLine(cart.Line{
		ProductID: "cola-330", MachineID: "VM-001", SlotID: "A1",
		Quantity: 2, UnitPrice: 250,
	}))
	require.NoError(t, c.AddLine(cart.Line{
		ProductID: "chips-50g", MachineID: "VM-001", SlotID: "B2",
		Quantity: 1, UnitPrice: 180,
	}))
	return c
}

func TestNewFromCart_Snapshot(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "user-1", o.UserID)
	assert.Equal(t, 3, o.ItemCount)
	assert.Equal(t, int64(680), o.Subtotal)
	assert.Equal(t, int64(680), o.TotalAmount)
	assert.Equal(t, "card", o.Payment.Method)
	assert.Equal(t, "VM-001", o.Delivery.MachineID)
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.Lines, 2)
	assert.False(t, o.Lines[0].Dispensed)
}

func TestNewFromCart_TaxAddedToTotal(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 34)
	require.NoError(t, err)

	assert.Equal(t, int64(680), o.Subtotal)
	assert.Equal(t, int64(34), o.Tax)
	assert.Equal(t, int64(714), o.TotalAmount)
}

func TestNewFromCart_Rejected(t *testing.T) {
	_, err := NewFromCart(cart.New("user-1"), "card", 0)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = NewFromCart(nil, "card", 0)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = NewFromCart(snapshotCart(t), "card", -1)
	assert.Error(t, err)
}

func TestNewID_FormatAndUniqueness(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-[0-9A-Z]+-[0-9A-Z]{5}$`)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NewID()
		require.Regexp(t, pattern, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestMarkLineDispensed_AutoCompletesOnLastLine(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)
	o.UpdateStatus(StatusDispensing, "")

	all, err := o.MarkLineDispensed("cola-330", "A1")
	require.NoError(t, err)
	assert.False(t, all)
	assert.Equal(t, StatusDispensing, o.Status)
	assert.NotNil(t, o.Lines[0].DispensedAt)

	all, err = o.MarkLineDispensed("chips-50g", "B2")
	require.NoError(t, err)
	assert.True(t, all)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
	assert.NotNil(t, o.Delivery.DispensedAt)
}

func TestMarkLineDispensed_Idempotent(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	_, err = o.MarkLineDispensed("cola-330", "A1")
	require.NoError(t, err)
	first := o.Lines[0].DispensedAt

	_, err = o.MarkLineDispensed("cola-330", "A1")
	require.NoError(t, err)
	assert.Equal(t, first, o.Lines[0].DispensedAt)
}

func TestMarkLineDispensed_UnknownLine(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	_, err = o.MarkLineDispensed("cola-330", "Z9")
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestCancel_EligibilityGate(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	require.NoError(t, o.Cancel("user abandoned"))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "user abandoned", o.CancelReason)
	assert.NotNil(t, o.CancelledAt)
}

func TestCancel_RejectedOnceDispensing(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)
	o.UpdateStatus(StatusDispensing, "")

	assert.ErrorIs(t, o.Cancel("too late"), ErrNotCancellable)
	assert.Equal(t, StatusDispensing, o.Status)
}

func TestCancel_ReasonRequired(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	assert.ErrorIs(t, o.Cancel(""), ErrCancelReasonRequired)
	assert.Equal(t, StatusPending, o.Status)
}

func TestUpdateStatus_StampsTimestamps(t *testing.T) {
	o, err := NewFromCart(snapshotCart(t), "card", 0)
	require.NoError(t, err)

	o.UpdateStatus(StatusRefunded, "")
	assert.Equal(t, StatusRefunded, o.Status)
	assert.NotNil(t, o.RefundedAt)
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusFailed, StatusRefunded} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusDispensing} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}
