package dispense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
	dominv "github.com/vendkit/vendcore/internal/domain/inventory"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const useCaseCancel = "order.cancel"

// CancelUseCase aborts an order that has not begun dispensing. It is the
// only path that cancels; once the first line leaves a slot the order can
// only finish or be refunded.
type CancelUseCase struct {
	orderRepo   domorder.Repository
	paymentRepo dompayment.Repository
	slotRepo    dominv.Repository
	publisher   domoutbox.Publisher

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewCancel(
	orderRepo domorder.Repository,
	paymentRepo dompayment.Repository,
	slotRepo dominv.Repository,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CancelUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &CancelUseCase{
		orderRepo:    orderRepo,
		paymentRepo:  paymentRepo,
		slotRepo:     slotRepo,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", dispenseService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

type CancelInput struct {
	OrderID string
	Reason  string
}

// Execute cancels the order, returns any already-dispensed stock to its
// slots and voids the pending payment.
func (uc *CancelUseCase) Execute(ctx context.Context, cmd CancelInput) (_ *domorder.Order, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseCancel),
		observability.F("order_id", cmd.OrderID),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"CancelOrder",
		attribute.String("use_case", useCaseCancel),
		attribute.String("order.id", cmd.OrderID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}
		lat := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseCancel),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseCancel))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.OrderID == "" {
		outcome, statusText = "error", "INPUT_INVALID"
		return nil, fmt.Errorf("cancel order: %w: order id is required", fault.ErrInvalidInput)
	}

	ord, err := uc.cancelOrder(ctx, cmd)
	if err != nil {
		outcome, statusText = "error", cancelStatusText(err)
		return nil, err
	}

	uc.restoreDispensed(ctx, logger, ord)
	uc.voidPayment(ctx, logger, ord.ID)
	uc.publish(ctx, logger, domorder.NewOrderCancelledEvent(ord, cmd.Reason))

	return ord, nil
}

// cancelOrder flips the order to CANCELLED under the version check,
// rechecking eligibility on every reload so a payment callback that lands
// mid-flight wins.
func (uc *CancelUseCase) cancelOrder(ctx context.Context, cmd CancelInput) (*domorder.Order, error) {
	for attempt := 0; ; attempt++ {
		ord, err := uc.orderRepo.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if err = ord.Cancel(cmd.Reason); err != nil {
			return nil, err
		}
		err = uc.orderRepo.Update(ctx, ord)
		if err == nil {
			return ord, nil
		}
		if !errors.Is(err, fault.ErrConflict) || attempt+1 >= maxUpdateRetries {
			return nil, err
		}
	}
}

// restoreDispensed puts back stock for any line that was already dispensed.
// With the CanBeCancelled gate this is normally empty; it covers operator
// cancellations forced between a decrement and its compensating restore.
func (uc *CancelUseCase) restoreDispensed(ctx context.Context, logger observability.Logger, ord *domorder.Order) {
	for _, line := range ord.Lines {
		if !line.Dispensed {
			continue
		}
		if err := uc.slotRepo.RestoreSlot(ctx, line.MachineID, line.SlotID, line.Quantity); err != nil {
			logger.Error("slot_restore_failed",
				observability.F("machine_id", line.MachineID),
				observability.F("slot_id", line.SlotID),
				observability.F("quantity", line.Quantity),
				observability.F("error", err.Error()),
			)
		}
	}
}

// voidPayment cancels the order's payment while it is still live. A payment
// that already succeeded stays untouched; the refund path owns that money.
func (uc *CancelUseCase) voidPayment(ctx context.Context, logger observability.Logger, orderID string) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		pay, err := uc.paymentRepo.GetOriginalByOrder(ctx, orderID)
		if err != nil {
			if !errors.Is(err, fault.ErrNotFound) {
				logger.Warn("payment_lookup_failed", observability.F("error", err.Error()))
			}
			return
		}
		if err = pay.Cancel(); err != nil {
			return
		}
		err = uc.paymentRepo.Update(ctx, pay)
		if err == nil {
			return
		}
		if !errors.Is(err, fault.ErrConflict) {
			logger.Warn("payment_cancel_failed",
				observability.F("payment_id", pay.ID),
				observability.F("error", err.Error()),
			)
			return
		}
	}
}

func (uc *CancelUseCase) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func cancelStatusText(err error) string {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, domorder.ErrNotCancellable):
		return "ORDER_NOT_CANCELLABLE"
	case errors.Is(err, domorder.ErrCancelReasonRequired):
		return "REASON_REQUIRED"
	default:
		return "ORDER_CANCEL_FAILED"
	}
}
