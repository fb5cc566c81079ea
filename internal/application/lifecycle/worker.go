package lifecycle

import (
	"context"

	dominv "github.com/vendkit/vendcore/internal/domain/inventory"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
)

// Worker consumes lifecycle events off the bus and turns them into the audit
// log and the per-event counter. It never writes back into the domain; the
// use cases already finished their state changes before publishing.
type Worker struct {
	log     observability.Logger
	counter observability.Counter
}

func NewWorker(tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		log:     tel.Logger().With(observability.F("service", "lifecycle-worker")),
		counter: tel.Metrics().Counter(observability.MLifecycleEvents),
	}
}

// Register attaches the worker to every lifecycle event the engine emits.
func (w *Worker) Register(sub domoutbox.Subscriber) {
	for _, name := range []string{
		domorder.OrderCreatedEvent{}.EventName(),
		domorder.OrderCompletedEvent{}.EventName(),
		domorder.OrderCancelledEvent{}.EventName(),
		dompayment.PaymentSucceededEvent{}.EventName(),
		dompayment.PaymentFailedEvent{}.EventName(),
		dompayment.PaymentRefundedEvent{}.EventName(),
		dominv.StockDepletedEvent{}.EventName(),
	} {
		sub.Subscribe(name, w.Handle)
	}
}

func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) error {
	w.counter.Add(1, observability.L("event", e.EventName()))
	w.log.Info("lifecycle_event", w.fields(e)...)
	return nil
}

func (w *Worker) fields(e domoutbox.Event) []observability.Field {
	fields := []observability.Field{observability.F("event", e.EventName())}
	switch ev := e.(type) {
	case domorder.OrderCreatedEvent:
		fields = append(fields,
			observability.F("order_id", ev.OrderID),
			observability.F("user_id", ev.UserID),
			observability.F("item_count", ev.ItemCount),
			observability.F("total_amount", ev.TotalAmount),
		)
	case domorder.OrderCompletedEvent:
		fields = append(fields, observability.F("order_id", ev.OrderID))
	case domorder.OrderCancelledEvent:
		fields = append(fields,
			observability.F("order_id", ev.OrderID),
			observability.F("reason", ev.Reason),
		)
	case dompayment.PaymentSucceededEvent:
		fields = append(fields,
			observability.F("payment_id", ev.PaymentID),
			observability.F("order_id", ev.OrderID),
			observability.F("amount", ev.Amount),
		)
	case dompayment.PaymentFailedEvent:
		fields = append(fields,
			observability.F("payment_id", ev.PaymentID),
			observability.F("order_id", ev.OrderID),
			observability.F("terminal", ev.Terminal),
		)
	case dompayment.PaymentRefundedEvent:
		fields = append(fields,
			observability.F("payment_id", ev.PaymentID),
			observability.F("order_id", ev.OrderID),
			observability.F("refund_id", ev.RefundPaymentID),
			observability.F("amount", ev.Amount),
		)
	case dominv.StockDepletedEvent:
		fields = append(fields,
			observability.F("machine_id", ev.MachineID),
			observability.F("slot_id", ev.SlotID),
			observability.F("product_id", ev.ProductID),
		)
	}
	return fields
}
