package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vendkit/vendcore/internal/domain/fault"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"
)

const useCaseRefund = "payment.refund"

// RefundUseCase keeps the refund ledger: every refund is its own Payment
// document linked by order id, while the cumulative cap is enforced against
// the original payment's refundable balance, never recomputed from the
// refund documents alone.
type RefundUseCase struct {
	paymentRepo dompayment.Repository
	orderRepo   domorder.Repository
	publisher   domoutbox.Publisher

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewRefundUseCase(
	paymentRepo dompayment.Repository,
	orderRepo domorder.Repository,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *RefundUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &RefundUseCase{
		paymentRepo:  paymentRepo,
		orderRepo:    orderRepo,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", paymentService)),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

type RefundInput struct {
	PaymentID string
	Amount    int64
}

type RefundResult struct {
	RefundPaymentID  string
	RefundedAmount   int64
	RefundableAmount int64
	FullyRefunded    bool
}

// Execute processes one (possibly partial) refund.
func (uc *RefundUseCase) Execute(ctx context.Context, cmd RefundInput) (_ *RefundResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseRefund),
		observability.F("payment_id", cmd.PaymentID),
		observability.F("amount", cmd.Amount),
	)
	start := time.Now()
	outcome := "success"

	defer func() {
		lat := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseRefund),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseRefund))
		if err != nil {
			logger.Info("use_case_done",
				observability.F("outcome", outcome),
				observability.F("error", err.Error()),
			)
			return
		}
		logger.Info("use_case_done", observability.F("outcome", outcome))
	}()

	if cmd.PaymentID == "" {
		outcome = "error"
		return nil, fmt.Errorf("payment: %w: payment id is required", fault.ErrInvalidInput)
	}

	refundID := "REF-" + uuid.NewString()

	var original *dompayment.Payment
	var refund *dompayment.Payment

	for attempt := 0; ; attempt++ {
		original, err = uc.paymentRepo.Get(ctx, cmd.PaymentID)
		if err != nil {
			outcome = "error"
			return nil, err
		}

		// Build the refund document before mutating the original so the
		// full/partial classification sees the pre-refund balance.
		refund, err = dompayment.NewRefund(original, cmd.Amount, refundID)
		if err != nil {
			outcome = "error"
			return nil, err
		}
		if err = original.ProcessRefund(cmd.Amount, refundID); err != nil {
			outcome = "error"
			return nil, err
		}

		err = uc.paymentRepo.Update(ctx, original)
		if err == nil {
			break
		}
		if !errors.Is(err, fault.ErrConflict) || attempt+1 >= maxUpdateRetries {
			outcome = "error"
			return nil, err
		}
	}

	if err = uc.paymentRepo.Insert(ctx, refund); err != nil {
		outcome = "error"
		return nil, err
	}

	fullyRefunded := original.RefundableAmount == 0
	if fullyRefunded {
		if err = uc.markOrderRefunded(ctx, original); err != nil {
			outcome = "error"
			return nil, err
		}
	}

	if uc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		if pubErr := uc.publisher.Publish(pubCtx, dompayment.NewPaymentRefundedEvent(original, refund)); pubErr != nil {
			logger.Warn("event_publish_failed",
				observability.F("event", "payment.refunded"),
				observability.F("error", pubErr.Error()),
			)
		}
		cancel()
	}

	return &RefundResult{
		RefundPaymentID:  refund.ID,
		RefundedAmount:   original.RefundedAmount,
		RefundableAmount: original.RefundableAmount,
		FullyRefunded:    fullyRefunded,
	}, nil
}

func (uc *RefundUseCase) markOrderRefunded(ctx context.Context, original *dompayment.Payment) error {
	for attempt := 0; ; attempt++ {
		ord, err := uc.orderRepo.Get(ctx, original.OrderID)
		if err != nil {
			return err
		}
		ord.UpdateStatus(domorder.StatusRefunded, "")
		ord.SetPaymentSummary(domorder.PaymentSummary{
			PaymentID:     original.ID,
			Method:        original.Method,
			Status:        string(original.Status),
			TransactionID: original.GatewayResponse.TransactionID,
		})
		err = uc.orderRepo.Update(ctx, ord)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fault.ErrConflict) || attempt+1 >= maxUpdateRetries {
			return err
		}
	}
}
