package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/vendkit/vendcore/internal/domain/fault"
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
	callback  *CallbackUseCase
	refund    *RefundUseCase
	orders    *memory.OrderRepository
	payments  *memory.PaymentRepository
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    memory.NewOrderRepository(),
		payments:  memory.NewPaymentRepository(),
		publisher: &recordingPublisher{},
	}
	f.callback = NewCallbackUseCase(f.payments, f.orders, f.publisher, nil)
	f.refund = NewRefundUseCase(f.payments, f.orders, f.publisher, nil)
	return f
}

// seedOrderWithPayment persists a PENDING order and its PENDING payment the
// way checkout leaves them.
func (f *fixture) seedOrderWithPayment(t *testing.T) (*domorder.Order, *dompayment.Payment) {
	t.Helper()
	ctx := context.Background()

	c := domcart.New("user-1")
	require.NoError(t, c.AddLine(domcart.Line{
		ProductID: "cola-330", MachineID: "VM-001", SlotID: "A1",
		Quantity: 2, UnitPrice: 250,
	}))
	ord, err := domorder.NewFromCart(c, "card", 0)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(ctx, ord))

	pay, err := dompayment.Initiate(ord.ID, "user-1", ord.TotalAmount, "USD", "card", "simulator")
	require.NoError(t, err)
	require.NoError(t, f.payments.Insert(ctx, pay))

	return ord, pay
}

func TestCallback_SuccessConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)

	res, err := f.callback.Execute(ctx, CallbackInput{
		PaymentID: pay.ID,
		Outcome:   OutcomeSuccess,
		Response:  dompayment.GatewayResponse{TransactionID: "TXN-1", Code: "00"},
	})
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccess, res.PaymentStatus)

	stored, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccess, stored.Status)
	assert.Equal(t, stored.Amount, stored.RefundableAmount)
	assert.Equal(t, "TXN-1", stored.GatewayResponse.TransactionID)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusConfirmed, updated.Status)
	assert.Equal(t, string(dompayment.StatusSuccess), updated.Payment.Status)

	assert.Equal(t, []string{"payment.succeeded"}, f.publisher.names())
}

func TestCallback_DuplicateSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)

	in := CallbackInput{
		PaymentID: pay.ID,
		Outcome:   OutcomeSuccess,
		Response:  dompayment.GatewayResponse{TransactionID: "TXN-1"},
	}
	_, err := f.callback.Execute(ctx, in)
	require.NoError(t, err)
	_, err = f.callback.Execute(ctx, in)
	require.NoError(t, err)

	stored, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusSuccess, stored.Status)
	assert.Equal(t, stored.Amount, stored.RefundableAmount)
	assert.Equal(t, int64(0), stored.RefundedAmount)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusConfirmed, updated.Status)
}

func TestCallback_ReplayedSuccessNeverRegressesDispensingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)

	in := CallbackInput{PaymentID: pay.ID, Outcome: OutcomeSuccess}
	_, err := f.callback.Execute(ctx, in)
	require.NoError(t, err)

	// dispensing begins, then a stale webhook replay lands
	current, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	current.UpdateStatus(domorder.StatusDispensing, "")
	require.NoError(t, f.orders.Update(ctx, current))

	_, err = f.callback.Execute(ctx, in)
	require.NoError(t, err)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusDispensing, updated.Status)
}

func TestCallback_FailureKeepsPaymentPayableUntilCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)

	in := CallbackInput{
		PaymentID: pay.ID,
		Outcome:   OutcomeFailed,
		Response:  dompayment.GatewayResponse{Code: "51", Message: "insufficient funds"},
	}

	res, err := f.callback.Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusPending, res.PaymentStatus)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Terminal)

	res, err = f.callback.Execute(ctx, in)
	require.NoError(t, err)
	assert.False(t, res.Terminal)

	res, err = f.callback.Execute(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusFailed, res.PaymentStatus)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, res.Terminal)

	// order stays PENDING; failing the order is a caller decision
	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPending, updated.Status)
	assert.Equal(t, string(dompayment.StatusFailed), updated.Payment.Status)

	assert.Equal(t, []string{"payment.failed", "payment.failed", "payment.failed"}, f.publisher.names())
}

func TestCallback_UnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.callback.Execute(context.Background(), CallbackInput{
		PaymentID: "PAY-MISSING",
		Outcome:   OutcomeSuccess,
	})
	assert.ErrorIs(t, err, dompayment.ErrNotFound)
}

func TestCallback_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.callback.Execute(ctx, CallbackInput{Outcome: OutcomeSuccess})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)

	_, pay := f.seedOrderWithPayment(t)
	_, err = f.callback.Execute(ctx, CallbackInput{PaymentID: pay.ID, Outcome: "settled"})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}
