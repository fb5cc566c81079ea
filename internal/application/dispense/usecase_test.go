package dispense

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/vendkit/vendcore/internal/domain/fault"
	dominv "github.com/vendkit/vendcore/internal/domain/inventory"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/infrastructure/memory"
)

type recordingPublisher struct {
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	dispense  *UseCase
	cancel    *CancelUseCase
	orders    *memory.OrderRepository
	payments  *memory.PaymentRepository
	slots     *memory.SlotRepository
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    memory.NewOrderRepository(),
		payments:  memory.NewPaymentRepository(),
		slots:     memory.NewSlotRepository(),
		publisher: &recordingPublisher{},
	}
	f.slots.SeedMachine(&dominv.Machine{
		ID: "VM-001",
		Slots: []dominv.Slot{
			{SlotID: "A1", ProductID: "cola-330", Quantity: 5, MaxCapacity: 10, Price: 250},
			{SlotID: "B2", ProductID: "chips-50g", Quantity: 3, MaxCapacity: 8, Price: 180},
		},
	})
	f.dispense = New(f.orders, f.slots, f.publisher, nil)
	f.cancel = NewCancel(f.orders, f.payments, f.slots, f.publisher, nil)
	return f
}

// seedOrder persists a two-line order in the given status, mirroring the
// state a confirmed checkout leaves behind.
func (f *fixture) seedOrder(t *testing.T, status domorder.Status) *domorder.Order {
	t.Helper()
	ctx := context.Background()

	c := domcart.New("user-1")
	require.NoError(t, c.AddLine(domcart.Line{
		ProductID: "cola-330", MachineID: "VM-001", SlotID: "A1",
		Quantity: 2, UnitPrice: 250,
	}))
	require.NoError(t, c.AddLine(domcart.Line{
		ProductID: "chips-50g", MachineID: "VM-001", SlotID: "B2",
		Quantity: 1, UnitPrice: 180,
	}))
	ord, err := domorder.NewFromCart(c, "card", 0)
	require.NoError(t, err)
	if status != domorder.StatusPending {
		ord.UpdateStatus(status, "")
	}
	require.NoError(t, f.orders.Insert(ctx, ord))
	return ord
}

func (f *fixture) slotQuantity(t *testing.T, slotID string) int {
	t.Helper()
	slot, err := f.slots.GetSlot(context.Background(), "VM-001", slotID)
	require.NoError(t, err)
	return slot.Quantity
}

func TestDispense_FirstLineMovesOrderToDispensing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	res, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, domorder.StatusDispensing, res.OrderStatus)
	require.Len(t, res.RemainingLines, 1)
	assert.Equal(t, "chips-50g", res.RemainingLines[0].ProductID)

	// line quantity 2 leaves the slot in one trigger
	assert.Equal(t, 3, f.slotQuantity(t, "A1"))

	stored, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.True(t, stored.Lines[0].Dispensed)
	assert.NotNil(t, stored.Lines[0].DispensedAt)
}

func TestDispense_LastLineCompletesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	_, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	require.NoError(t, err)

	res, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "chips-50g", SlotID: "B2"})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusCompleted, res.OrderStatus)
	assert.Empty(t, res.RemainingLines)

	stored, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CompletedAt)
	assert.NotNil(t, stored.Delivery.DispensedAt)

	assert.Contains(t, f.publisher.names(), "order.completed")
}

func TestDispense_RepeatTriggerIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	in := Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"}
	_, err := f.dispense.Execute(ctx, in)
	require.NoError(t, err)

	res, err := f.dispense.Execute(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Success)

	// never a double decrement
	assert.Equal(t, 3, f.slotQuantity(t, "A1"))
}

func TestDispense_PendingOrderRejected(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, domorder.StatusPending)

	_, err := f.dispense.Execute(context.Background(), Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	assert.ErrorIs(t, err, fault.ErrInvalidState)
	assert.Equal(t, 5, f.slotQuantity(t, "A1"))
}

func TestDispense_CancelledOrderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)
	stored, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Cancel("user abandoned"))
	require.NoError(t, f.orders.Update(ctx, stored))

	_, err = f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	assert.ErrorIs(t, err, fault.ErrInvalidState)
}

func TestDispense_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	// drain the slot below the line quantity
	require.NoError(t, f.slots.DecrementSlot(ctx, "VM-001", "A1", 4))

	_, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	assert.ErrorIs(t, err, fault.ErrInsufficientStock)

	stored, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.False(t, stored.Lines[0].Dispensed)
	assert.Equal(t, 1, f.slotQuantity(t, "A1"))
}

func TestDispense_EmptiedSlotPublishesDepletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	require.NoError(t, f.slots.DecrementSlot(ctx, "VM-001", "A1", 3))

	_, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	require.NoError(t, err)

	assert.Equal(t, 0, f.slotQuantity(t, "A1"))
	assert.Contains(t, f.publisher.names(), "inventory.stock_depleted")
}

func TestDispense_UnknownLine(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	_, err := f.dispense.Execute(context.Background(), Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "Z9"})
	assert.ErrorIs(t, err, domorder.ErrLineNotFound)
}

func TestCancelOrder_RestoresNothingAndVoidsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	pay, err := dompayment.Initiate(ord.ID, "user-1", ord.TotalAmount, "USD", "card", "simulator")
	require.NoError(t, err)
	require.NoError(t, f.payments.Insert(ctx, pay))

	res, err := f.cancel.Execute(ctx, CancelInput{OrderID: ord.ID, Reason: "user abandoned"})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusCancelled, res.Status)
	assert.Equal(t, "user abandoned", res.CancelReason)

	storedPay, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusCancelled, storedPay.Status)

	// stock untouched
	assert.Equal(t, 5, f.slotQuantity(t, "A1"))
	assert.Equal(t, 3, f.slotQuantity(t, "B2"))

	assert.Contains(t, f.publisher.names(), "order.cancelled")
}

func TestCancelOrder_SucceededPaymentLeftForRefundPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	pay, err := dompayment.Initiate(ord.ID, "user-1", ord.TotalAmount, "USD", "card", "simulator")
	require.NoError(t, err)
	pay.MarkSucceeded(dompayment.GatewayResponse{TransactionID: "TXN-1"})
	require.NoError(t, f.payments.Insert(ctx, pay))

	_, err = f.cancel.Execute(ctx, CancelInput{OrderID: ord.ID, Reason: "changed mind"})
	require.NoError(t, err)

	storedPay, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccess, storedPay.Status)
}

func TestCancelOrder_RejectedOnceDispensing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	_, err := f.dispense.Execute(ctx, Input{OrderID: ord.ID, ProductID: "cola-330", SlotID: "A1"})
	require.NoError(t, err)

	_, err = f.cancel.Execute(ctx, CancelInput{OrderID: ord.ID, Reason: "too late"})
	assert.ErrorIs(t, err, domorder.ErrNotCancellable)
	assert.Equal(t, 3, f.slotQuantity(t, "A1"))
}

func TestCancelOrder_ReasonRequired(t *testing.T) {
	f := newFixture(t)
	ord := f.seedOrder(t, domorder.StatusConfirmed)

	_, err := f.cancel.Execute(context.Background(), CancelInput{OrderID: ord.ID})
	assert.ErrorIs(t, err, domorder.ErrCancelReasonRequired)
}

func TestCancelOrder_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.cancel.Execute(context.Background(), CancelInput{OrderID: "ORD-MISSING", Reason: "x"})
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
