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
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dispenseService = "dispense-service"
	useCaseDispense = "dispense.slot"
	spanPrefix      = "UC."

	maxUpdateRetries = 3
)

// UseCase is the dispense trigger invoked by machine-control logic. The slot
// decrement is the one contended write in the system and goes through the
// repository's atomic conditional update; the order-side mark is serialized
// by the version check so two racing dispenses cannot both skip the
// auto-complete transition.
type UseCase struct {
	orderRepo domorder.Repository
	slotRepo  dominv.Repository
	publisher domoutbox.Publisher

	log           observability.Logger
	tracer        observability.Tracer
	reqCounter    observability.Counter
	durHistogram  observability.Histogram
	stockConflict observability.Counter
}

func New(
	orderRepo domorder.Repository,
	slotRepo dominv.Repository,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &UseCase{
		orderRepo:     orderRepo,
		slotRepo:      slotRepo,
		publisher:     publisher,
		log:           tel.Logger().With(observability.F("service", dispenseService)),
		tracer:        tel.Tracer(),
		reqCounter:    metrics.Counter(observability.MUsecaseRequests),
		durHistogram:  metrics.Histogram(observability.MUsecaseDuration),
		stockConflict: metrics.Counter(observability.MStockConflicts),
	}
}

type Input struct {
	OrderID   string
	ProductID string
	SlotID    string
}

type Result struct {
	Success        bool
	OrderStatus    domorder.Status
	RemainingLines []domorder.Line
}

// Execute dispenses one order line from its slot.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseDispense),
		observability.F("order_id", cmd.OrderID),
		observability.F("product_id", cmd.ProductID),
		observability.F("slot_id", cmd.SlotID),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"Dispense",
		attribute.String("use_case", useCaseDispense),
		attribute.String("order.id", cmd.OrderID),
		attribute.String("product.id", cmd.ProductID),
		attribute.String("slot.id", cmd.SlotID),
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
			observability.L("use_case", useCaseDispense),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseDispense))

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

	if cmd.OrderID == "" || cmd.ProductID == "" || cmd.SlotID == "" {
		outcome, statusText = "error", "INPUT_INVALID"
		return nil, fmt.Errorf("dispense: %w: order, product and slot ids are required", fault.ErrInvalidInput)
	}

	ord, err := uc.orderRepo.Get(ctx, cmd.OrderID)
	if err != nil {
		outcome, statusText = "error", "ORDER_LOOKUP_FAILED"
		return nil, err
	}

	line, err := findLine(ord, cmd.ProductID, cmd.SlotID)
	if err != nil {
		outcome, statusText = "error", "LINE_NOT_FOUND"
		return nil, err
	}
	if line.Dispensed {
		// duplicate trigger; never decrement twice
		statusText = "ALREADY_DISPENSED"
		return uc.result(ord), nil
	}

	if err = dispensable(ord); err != nil {
		outcome, statusText = "error", "ORDER_NOT_DISPENSABLE"
		return nil, err
	}

	if err = uc.slotRepo.DecrementSlot(ctx, line.MachineID, cmd.SlotID, line.Quantity); err != nil {
		outcome, statusText = "error", "SLOT_DECREMENT_FAILED"
		if errors.Is(err, fault.ErrInsufficientStock) {
			statusText = "INSUFFICIENT_STOCK"
			uc.stockConflict.Add(1,
				observability.L("machine_id", line.MachineID),
				observability.L("slot_id", cmd.SlotID),
			)
		}
		return nil, err
	}

	ord, completed, err := uc.markDispensed(ctx, ord, cmd, line)
	if err != nil {
		outcome, statusText = "error", "ORDER_MARK_FAILED"
		return nil, err
	}

	if completed {
		statusText = "ORDER_COMPLETED"
		span.AddEvent("order.completed", trace.WithAttributes(attribute.String("order.id", ord.ID)))
		uc.publish(ctx, logger, domorder.NewOrderCompletedEvent(ord))
	}
	uc.checkDepletion(ctx, logger, line.MachineID, cmd.SlotID, line.ProductID)

	return uc.result(ord), nil
}

// markDispensed applies the line mark under the optimistic version check.
// Losing the race means another dispense landed first: reload, and when the
// line turns out to be already dispensed, put the stock back — our decrement
// was the duplicate.
func (uc *UseCase) markDispensed(ctx context.Context, ord *domorder.Order, cmd Input, line *domorder.Line) (*domorder.Order, bool, error) {
	for attempt := 0; ; attempt++ {
		current, err := findLine(ord, cmd.ProductID, cmd.SlotID)
		if err != nil {
			uc.compensate(ctx, line, cmd.SlotID)
			return nil, false, err
		}
		if current.Dispensed {
			uc.compensate(ctx, line, cmd.SlotID)
			return ord, false, nil
		}

		if ord.Status == domorder.StatusConfirmed || ord.Status == domorder.StatusProcessing {
			ord.UpdateStatus(domorder.StatusDispensing, "")
		}
		completed, err := ord.MarkLineDispensed(cmd.ProductID, cmd.SlotID)
		if err != nil {
			uc.compensate(ctx, line, cmd.SlotID)
			return nil, false, err
		}

		err = uc.orderRepo.Update(ctx, ord)
		if err == nil {
			return ord, completed, nil
		}
		if !errors.Is(err, fault.ErrConflict) || attempt+1 >= maxUpdateRetries {
			uc.compensate(ctx, line, cmd.SlotID)
			return nil, false, err
		}

		ord, err = uc.orderRepo.Get(ctx, cmd.OrderID)
		if err != nil {
			uc.compensate(ctx, line, cmd.SlotID)
			return nil, false, err
		}
	}
}

// compensate restores the stock this request decremented when the order-side
// mark could not be applied.
func (uc *UseCase) compensate(ctx context.Context, line *domorder.Line, slotID string) {
	if err := uc.slotRepo.RestoreSlot(ctx, line.MachineID, slotID, line.Quantity); err != nil {
		uc.log.Error("slot_restore_failed",
			observability.F("machine_id", line.MachineID),
			observability.F("slot_id", slotID),
			observability.F("quantity", line.Quantity),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *UseCase) checkDepletion(ctx context.Context, logger observability.Logger, machineID, slotID, productID string) {
	slot, err := uc.slotRepo.GetSlot(ctx, machineID, slotID)
	if err != nil || slot.Quantity > 0 {
		return
	}
	uc.publish(ctx, logger, dominv.StockDepletedEvent{
		MachineID:  machineID,
		SlotID:     slotID,
		ProductID:  productID,
		OccurredAt: time.Now().UTC(),
	})
}

func (uc *UseCase) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
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

func (uc *UseCase) result(ord *domorder.Order) *Result {
	var remaining []domorder.Line
	for _, l := range ord.Lines {
		if !l.Dispensed {
			remaining = append(remaining, l)
		}
	}
	return &Result{
		Success:        true,
		OrderStatus:    ord.Status,
		RemainingLines: remaining,
	}
}

func findLine(ord *domorder.Order, productID, slotID string) (*domorder.Line, error) {
	for i := range ord.Lines {
		if ord.Lines[i].ProductID == productID && ord.Lines[i].SlotID == slotID {
			return &ord.Lines[i], nil
		}
	}
	return nil, domorder.ErrLineNotFound
}

// dispensable gates the trigger on the order having a confirmed payment and
// not having exited the dispense path.
func dispensable(ord *domorder.Order) error {
	switch ord.Status {
	case domorder.StatusConfirmed, domorder.StatusProcessing, domorder.StatusDispensing:
		return nil
	case domorder.StatusPending:
		return fmt.Errorf("dispense: %w: payment not confirmed", fault.ErrInvalidState)
	default:
		return fmt.Errorf("dispense: %w: order is %s", fault.ErrInvalidState, ord.Status)
	}
}
