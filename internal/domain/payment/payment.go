package payment

import (
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
)

var (
	ErrNotFound             = fmt.Errorf("payment: %w", fault.ErrNotFound)
	ErrInvalidAmount        = fmt.Errorf("payment: %w: amount must be zero or greater", fault.ErrInvalidInput)
	ErrNotRefundable        = fmt.Errorf("payment: %w: payment is not refundable", fault.ErrInvalidState)
	ErrRefundExceedsBalance = fmt.Errorf("payment: %w: refund exceeds refundable amount", fault.ErrInvalidInput)
	ErrInvalidRefundAmount  = fmt.Errorf("payment: %w: refund amount must be greater than zero", fault.ErrInvalidInput)
	ErrConflict             = fmt.Errorf("payment: %w", fault.ErrConflict)
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

type TransactionType string

const (
	TypePayment       TransactionType = "payment"
	TypeRefund        TransactionType = "refund"
	TypePartialRefund TransactionType = "partial_refund"
)

const (
	// Expiry bounds how long a pending payment stays payable. It is derived
	// lazily via IsExpired; nothing actively flips overdue payments unless
	// the expiry sweeper is enabled.
	Expiry = 15 * time.Minute

	DefaultMaxAttempts = 3
)

// GatewayResponse carries opaque pass-through fields from the payment
// gateway. The engine stores them verbatim and only reads TransactionID.
type GatewayResponse struct {
	TransactionID string         `bson:"transaction_id,omitempty"`
	Code          string         `bson:"code,omitempty"`
	Message       string         `bson:"message,omitempty"`
	Raw           map[string]any `bson:"raw,omitempty"`
}

// Payment tracks a monetary transaction against an order. Refunds are
// separate Payment documents of type refund/partial_refund linked by order
// id; the cumulative refund cap lives on the original's refundable balance.
type Payment struct {
	ID               string          `bson:"_id"`
	OrderID          string          `bson:"order_id"`
	UserID           string          `bson:"user_id"`
	Amount           int64           `bson:"amount"`
	Currency         string          `bson:"currency"`
	Method           string          `bson:"method"`
	Gateway          string          `bson:"gateway"`
	Type             TransactionType `bson:"type"`
	Status           Status          `bson:"status"`
	GatewayResponse  GatewayResponse `bson:"gateway_response"`
	InitiatedAt      time.Time       `bson:"initiated_at"`
	CompletedAt      *time.Time      `bson:"completed_at,omitempty"`
	FailedAt         *time.Time      `bson:"failed_at,omitempty"`
	ExpiresAt        time.Time       `bson:"expires_at"`
	Attempts         int             `bson:"attempts"`
	MaxAttempts      int             `bson:"max_attempts"`
	LastAttemptAt    *time.Time      `bson:"last_attempt_at,omitempty"`
	RefundableAmount int64           `bson:"refundable_amount"`
	RefundedAmount   int64           `bson:"refunded_amount"`
	UpdatedAt        time.Time       `bson:"updated_at"`

	// Version backs the repositories' optimistic concurrency check, which is
	// what keeps concurrent attempt increments and duplicate gateway
	// callbacks coherent.
	Version int64 `bson:"version"`
}

// Initiate creates a PENDING payment for an order. The payment id is
// assigned exactly once, here; expiry is initiated + 15 minutes.
func Initiate(orderID, userID string, amount int64, currency, method, gateway string) (*Payment, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		ID:          NewID(),
		OrderID:     orderID,
		UserID:      userID,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		Gateway:     gateway,
		Type:        TypePayment,
		Status:      StatusPending,
		InitiatedAt: now,
		ExpiresAt:   now.Add(Expiry),
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// NewRefund builds a refund document linked to the original payment's order.
// It does not touch the original's balances; ProcessRefund owns those.
func NewRefund(original *Payment, amount int64, refundID string) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidRefundAmount
	}
	refundType := TypePartialRefund
	if amount == original.Amount && original.RefundedAmount == 0 {
		refundType = TypeRefund
	}
	now := time.Now().UTC()
	completed := now
	return &Payment{
		ID:          NewID(),
		OrderID:     original.OrderID,
		UserID:      original.UserID,
		Amount:      amount,
		Currency:    original.Currency,
		Method:      original.Method,
		Gateway:     original.Gateway,
		Type:        refundType,
		Status:      StatusSuccess,
		GatewayResponse: GatewayResponse{
			TransactionID: refundID,
		},
		InitiatedAt: now,
		CompletedAt: &completed,
		ExpiresAt:   now,
		MaxAttempts: DefaultMaxAttempts,
		UpdatedAt:   now,
		Version:     1,
	}, nil
}

// IncrementAttempt bumps the attempt counter and stamps the attempt time.
// Reaching the cap forces the payment into FAILED. Concurrency safety comes
// from the repository version check: two simultaneous increments cannot both
// persist, so the stored count stays coherent.
func (p *Payment) IncrementAttempt() {
	now := time.Now().UTC()
	p.Attempts++
	p.LastAttemptAt = &now
	if p.Attempts >= p.MaxAttempts {
		p.Status = StatusFailed
		p.FailedAt = &now
	}
	p.touch(now)
}

// MarkSucceeded sets the payment to SUCCESS and makes the full amount
// refundable. The operation is a set, not an increment: duplicate gateway
// callbacks land on the same state and never double-count the balance.
func (p *Payment) MarkSucceeded(resp GatewayResponse) {
	now := time.Now().UTC()
	if p.Status != StatusSuccess {
		p.Status = StatusSuccess
		p.CompletedAt = &now
	}
	p.mergeGatewayResponse(resp)
	if p.Type == TypePayment {
		p.RefundableAmount = p.Amount - p.RefundedAmount
	}
	p.touch(now)
}

// MarkFailed sets the payment to FAILED and records the gateway error fields.
func (p *Payment) MarkFailed(code, message string) {
	now := time.Now().UTC()
	p.Status = StatusFailed
	p.FailedAt = &now
	if code != "" {
		p.GatewayResponse.Code = code
	}
	if message != "" {
		p.GatewayResponse.Message = message
	}
	p.touch(now)
}

// Cancel marks a still-pending payment CANCELLED; used when the order is
// cancelled before the gateway confirms.
func (p *Payment) Cancel() error {
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return fmt.Errorf("payment: %w: only pending payments can be cancelled", fault.ErrInvalidState)
	}
	p.Status = StatusCancelled
	p.touch(time.Now().UTC())
	return nil
}

// CanBeRefunded is derived: a successful original payment with balance left.
func (p *Payment) CanBeRefunded() bool {
	return p.Status == StatusSuccess && p.RefundableAmount > 0 && p.Type == TypePayment
}

// ProcessRefund moves amount from the refundable to the refunded balance and
// records the refund's gateway transaction id. Partial refunds repeat until
// the refundable balance reaches zero. Fails without mutating state.
func (p *Payment) ProcessRefund(amount int64, refundID string) error {
	if !p.CanBeRefunded() {
		return ErrNotRefundable
	}
	if amount <= 0 {
		return ErrInvalidRefundAmount
	}
	if amount > p.RefundableAmount {
		return ErrRefundExceedsBalance
	}
	p.RefundedAmount += amount
	p.RefundableAmount -= amount
	p.GatewayResponse.TransactionID = refundID
	p.touch(time.Now().UTC())
	return nil
}

// IsExpired is a derived comparison; expiry is a query, not an error path.
func (p *Payment) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Expire flips an overdue pending payment to EXPIRED. Only the optional
// sweeper calls this; the default semantics stay lazy.
func (p *Payment) Expire(now time.Time) bool {
	if p.Status != StatusPending || !p.IsExpired(now) {
		return false
	}
	p.Status = StatusExpired
	p.touch(now.UTC())
	return true
}

func (p *Payment) mergeGatewayResponse(resp GatewayResponse) {
	if resp.TransactionID != "" {
		p.GatewayResponse.TransactionID = resp.TransactionID
	}
	if resp.Code != "" {
		p.GatewayResponse.Code = resp.Code
	}
	if resp.Message != "" {
		p.GatewayResponse.Message = resp.Message
	}
	if len(resp.Raw) > 0 {
		if p.GatewayResponse.Raw == nil {
			p.GatewayResponse.Raw = make(map[string]any, len(resp.Raw))
		}
		for k, v := range resp.Raw {
			p.GatewayResponse.Raw[k] = v
		}
	}
}

func (p *Payment) touch(now time.Time) {
	p.UpdatedAt = now
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.GatewayResponse.Raw != nil {
		raw := make(map[string]any, len(p.GatewayResponse.Raw))
		for k, v := range p.GatewayResponse.Raw {
			raw[k] = v
		}
		clone.GatewayResponse.Raw = raw
	}
	return &clone
}
