package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vendkit/vendcore/internal/domain/fault"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	paymentService  = "payment-service"
	useCaseCallback = "payment.gateway_callback"
	spanPrefix      = "UC."

	// maxUpdateRetries bounds the reload-and-reapply loop after a lost
	// optimistic-version race.
	maxUpdateRetries = 3
)

// Outcome is the gateway's asynchronous verdict.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// CallbackUseCase applies asynchronous gateway confirmations to the payment
// state machine and projects the result into the order document. Webhook
// retries are expected: success handling is a set, not an increment, and the
// repository version check serializes duplicate deliveries.
type CallbackUseCase struct {
	paymentRepo dompayment.Repository
	orderRepo   domorder.Repository
	publisher   domoutbox.Publisher

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewCallbackUseCase(
	paymentRepo dompayment.Repository,
	orderRepo domorder.Repository,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CallbackUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &CallbackUseCase{
		paymentRepo:  paymentRepo,
		orderRepo:    orderRepo,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", paymentService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

type CallbackInput struct {
	PaymentID string
	Outcome   Outcome
	Response  dompayment.GatewayResponse
}

type CallbackResult struct {
	PaymentStatus dompayment.Status
	Attempts      int
	Terminal      bool
}

// Execute handles one gateway callback delivery.
func (uc *CallbackUseCase) Execute(ctx context.Context, cmd CallbackInput) (_ *CallbackResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseCallback),
		observability.F("payment_id", cmd.PaymentID),
		observability.F("gateway_outcome", string(cmd.Outcome)),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"GatewayCallback",
		attribute.String("use_case", useCaseCallback),
		attribute.String("payment.id", cmd.PaymentID),
		attribute.String("gateway.outcome", string(cmd.Outcome)),
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
			observability.L("use_case", useCaseCallback),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseCallback))

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

	if cmd.PaymentID == "" {
		outcome, statusText = "error", "PAYMENT_ID_REQUIRED"
		return nil, fmt.Errorf("payment: %w: payment id is required", fault.ErrInvalidInput)
	}

	switch cmd.Outcome {
	case OutcomeSuccess:
		return uc.applySuccess(ctx, cmd, logger, &outcome, &statusText)
	case OutcomeFailed:
		return uc.applyFailure(ctx, cmd, logger, &outcome, &statusText)
	default:
		outcome, statusText = "error", "OUTCOME_UNKNOWN"
		return nil, fmt.Errorf("payment: %w: unknown gateway outcome %q", fault.ErrInvalidInput, cmd.Outcome)
	}
}

func (uc *CallbackUseCase) applySuccess(ctx context.Context, cmd CallbackInput, logger observability.Logger, outcome, statusText *string) (*CallbackResult, error) {
	var pay *dompayment.Payment

	err := uc.withPayment(ctx, cmd.PaymentID, func(p *dompayment.Payment) error {
		p.MarkSucceeded(cmd.Response)
		pay = p
		return nil
	})
	if err != nil {
		*outcome, *statusText = "error", "PAYMENT_UPDATE_FAILED"
		if errors.Is(err, dompayment.ErrNotFound) {
			*statusText = "PAYMENT_NOT_FOUND"
		}
		return nil, err
	}

	if err := uc.projectIntoOrder(ctx, pay, domorder.StatusConfirmed); err != nil {
		*outcome, *statusText = "error", "ORDER_PROJECTION_FAILED"
		return nil, err
	}

	uc.publish(ctx, logger, dompayment.NewPaymentSucceededEvent(pay))
	return &CallbackResult{PaymentStatus: pay.Status, Attempts: pay.Attempts}, nil
}

func (uc *CallbackUseCase) applyFailure(ctx context.Context, cmd CallbackInput, logger observability.Logger, outcome, statusText *string) (*CallbackResult, error) {
	var pay *dompayment.Payment

	err := uc.withPayment(ctx, cmd.PaymentID, func(p *dompayment.Payment) error {
		p.IncrementAttempt()
		if p.Attempts >= p.MaxAttempts {
			p.MarkFailed(cmd.Response.Code, cmd.Response.Message)
		} else {
			// attempts remain: record the gateway error but keep the payment
			// payable
			if cmd.Response.Code != "" {
				p.GatewayResponse.Code = cmd.Response.Code
			}
			if cmd.Response.Message != "" {
				p.GatewayResponse.Message = cmd.Response.Message
			}
		}
		pay = p
		return nil
	})
	if err != nil {
		*outcome, *statusText = "error", "PAYMENT_UPDATE_FAILED"
		if errors.Is(err, dompayment.ErrNotFound) {
			*statusText = "PAYMENT_NOT_FOUND"
		}
		return nil, err
	}

	terminal := pay.Status == dompayment.StatusFailed
	if terminal {
		*statusText = "ATTEMPTS_EXHAUSTED"
		// The order is not failed here; the caller decides between FAILED
		// and cancellation once the payment is terminally dead.
	} else {
		*statusText = "RETRY_POSSIBLE"
	}

	if err := uc.projectSummary(ctx, pay); err != nil {
		*outcome, *statusText = "error", "ORDER_PROJECTION_FAILED"
		return nil, err
	}

	uc.publish(ctx, logger, dompayment.NewPaymentFailedEvent(pay, cmd.Response.Message))
	return &CallbackResult{PaymentStatus: pay.Status, Attempts: pay.Attempts, Terminal: terminal}, nil
}

// withPayment runs mutate against a freshly-loaded payment and persists it,
// reloading and reapplying when a concurrent writer wins the version race.
func (uc *CallbackUseCase) withPayment(ctx context.Context, id string, mutate func(*dompayment.Payment) error) error {
	for attempt := 0; ; attempt++ {
		pay, err := uc.paymentRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(pay); err != nil {
			return err
		}
		err = uc.paymentRepo.Update(ctx, pay)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fault.ErrConflict) || attempt+1 >= maxUpdateRetries {
			return err
		}
	}
}

// projectIntoOrder sets the order status and payment summary after a
// confirmed payment. PENDING moves to the supplied status; later statuses
// are left alone so a replayed webhook cannot regress a dispensing order.
func (uc *CallbackUseCase) projectIntoOrder(ctx context.Context, pay *dompayment.Payment, confirmed domorder.Status) error {
	for attempt := 0; ; attempt++ {
		ord, err := uc.orderRepo.Get(ctx, pay.OrderID)
		if err != nil {
			return err
		}
		if ord.Status == domorder.StatusPending {
			ord.UpdateStatus(confirmed, "")
		}
		ord.SetPaymentSummary(domorder.PaymentSummary{
			PaymentID:     pay.ID,
			Method:        pay.Method,
			Status:        string(pay.Status),
			TransactionID: pay.GatewayResponse.TransactionID,
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

// projectSummary refreshes the embedded payment summary without touching the
// order status.
func (uc *CallbackUseCase) projectSummary(ctx context.Context, pay *dompayment.Payment) error {
	for attempt := 0; ; attempt++ {
		ord, err := uc.orderRepo.Get(ctx, pay.OrderID)
		if err != nil {
			return err
		}
		ord.SetPaymentSummary(domorder.PaymentSummary{
			PaymentID:     pay.ID,
			Method:        pay.Method,
			Status:        string(pay.Status),
			TransactionID: pay.GatewayResponse.TransactionID,
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

func (uc *CallbackUseCase) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event) {
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
