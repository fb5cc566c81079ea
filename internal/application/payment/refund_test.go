package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domorder "github.com/vendkit/vendcore/internal/domain/order"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
)

// settle drives the seeded payment to SUCCESS through the callback path so
// refund tests start from the state production would be in.
func (f *fixture) settle(t *testing.T, paymentID string) {
	t.Helper()
	_, err := f.callback.Execute(context.Background(), CallbackInput{
		PaymentID: paymentID,
		Outcome:   OutcomeSuccess,
		Response:  dompayment.GatewayResponse{TransactionID: "TXN-1"},
	})
	require.NoError(t, err)
}

func TestRefund_PartialLeavesOrderAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)
	f.settle(t, pay.ID)

	res, err := f.refund.Execute(ctx, RefundInput{PaymentID: pay.ID, Amount: 200})
	require.NoError(t, err)

	assert.False(t, res.FullyRefunded)
	assert.Equal(t, int64(200), res.RefundedAmount)
	assert.Equal(t, int64(300), res.RefundableAmount)

	ledger, err := f.payments.ListRefundsByOrder(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, res.RefundPaymentID, ledger[0].ID)
	assert.Equal(t, dompayment.TypePartialRefund, ledger[0].Type)
	assert.Equal(t, int64(200), ledger[0].Amount)
	assert.Equal(t, dompayment.StatusSuccess, ledger[0].Status)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusConfirmed, updated.Status)
}

func TestRefund_FullRefundMarksOrderRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)
	f.settle(t, pay.ID)

	res, err := f.refund.Execute(ctx, RefundInput{PaymentID: pay.ID, Amount: 500})
	require.NoError(t, err)

	assert.True(t, res.FullyRefunded)
	assert.Equal(t, int64(0), res.RefundableAmount)

	ledger, err := f.payments.ListRefundsByOrder(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, dompayment.TypeRefund, ledger[0].Type)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRefunded, updated.Status)
	assert.NotNil(t, updated.RefundedAt)

	assert.Contains(t, f.publisher.names(), "payment.refunded")
}

func TestRefund_PartialsDrainTheBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)
	f.settle(t, pay.ID)

	_, err := f.refund.Execute(ctx, RefundInput{PaymentID: pay.ID, Amount: 200})
	require.NoError(t, err)

	res, err := f.refund.Execute(ctx, RefundInput{PaymentID: pay.ID, Amount: 300})
	require.NoError(t, err)
	assert.True(t, res.FullyRefunded)

	ledger, err := f.payments.ListRefundsByOrder(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	// the remainder of a partially-refunded payment is still partial
	assert.Equal(t, dompayment.TypePartialRefund, ledger[1].Type)

	stored, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Amount, stored.RefundedAmount+stored.RefundableAmount)
	assert.Equal(t, int64(0), stored.RefundableAmount)

	updated, err := f.orders.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRefunded, updated.Status)
}

func TestRefund_OverdrawnRejectedWithoutLedgerEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ord, pay := f.seedOrderWithPayment(t)
	f.settle(t, pay.ID)

	_, err := f.refund.Execute(ctx, RefundInput{PaymentID: pay.ID, Amount: 600})
	assert.ErrorIs(t, err, dompayment.ErrRefundExceedsBalance)

	ledger, err := f.payments.ListRefundsByOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger)

	stored, err := f.payments.Get(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.RefundedAmount)
	assert.Equal(t, int64(500), stored.RefundableAmount)
}

func TestRefund_PendingPaymentNotRefundable(t *testing.T) {
	f := newFixture(t)
	_, pay := f.seedOrderWithPayment(t)

	_, err := f.refund.Execute(context.Background(), RefundInput{PaymentID: pay.ID, Amount: 100})
	assert.ErrorIs(t, err, dompayment.ErrNotRefundable)
}

func TestRefund_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	_, pay := f.seedOrderWithPayment(t)
	f.settle(t, pay.ID)

	_, err := f.refund.Execute(context.Background(), RefundInput{PaymentID: pay.ID, Amount: 0})
	assert.ErrorIs(t, err, dompayment.ErrInvalidRefundAmount)
}
