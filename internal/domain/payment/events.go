package payment

import "time"

// PaymentSucceededEvent is emitted after a gateway confirmation has been
// persisted.
type PaymentSucceededEvent struct {
	PaymentID  string
	OrderID    string
	Amount     int64
	OccurredAt time.Time
}

func (PaymentSucceededEvent) EventName() string { return "payment.succeeded" }

func NewPaymentSucceededEvent(p *Payment) PaymentSucceededEvent {
	return PaymentSucceededEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentFailedEvent is emitted on gateway failure or attempt exhaustion.
type PaymentFailedEvent struct {
	PaymentID  string
	OrderID    string
	Attempts   int
	Terminal   bool
	Reason     string
	OccurredAt time.Time
}

func (PaymentFailedEvent) EventName() string { return "payment.failed" }

func NewPaymentFailedEvent(p *Payment, reason string) PaymentFailedEvent {
	return PaymentFailedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		Attempts:   p.Attempts,
		Terminal:   p.Attempts >= p.MaxAttempts,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentRefundedEvent is emitted for every processed refund, partial or full.
type PaymentRefundedEvent struct {
	PaymentID        string
	RefundPaymentID  string
	OrderID          string
	Amount           int64
	RefundableAmount int64
	OccurredAt       time.Time
}

func (PaymentRefundedEvent) EventName() string { return "payment.refunded" }

func NewPaymentRefundedEvent(original *Payment, refund *Payment) PaymentRefundedEvent {
	return PaymentRefundedEvent{
		PaymentID:        original.ID,
		RefundPaymentID:  refund.ID,
		OrderID:          original.OrderID,
		Amount:           refund.Amount,
		RefundableAmount: original.RefundableAmount,
		OccurredAt:       time.Now().UTC(),
	}
}
