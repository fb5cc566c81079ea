package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	domcart "github.com/vendkit/vendcore/internal/domain/cart"
	"github.com/vendkit/vendcore/internal/domain/fault"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
	"github.com/vendkit/vendcore/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService = "checkout-service"
	useCaseCheckout = "checkout.create"
	spanPrefix      = "UC."
	publishTimeout  = 300 * time.Millisecond
)

// TaxPolicy computes the tax for an order subtotal. The policy itself is
// external to the lifecycle engine.
type TaxPolicy func(subtotal int64) int64

// ZeroTax is the default policy when none is configured.
func ZeroTax(int64) int64 { return 0 }

// UseCase converts the cart snapshot into an Order(PENDING) plus a linked
// Payment(PENDING). There is no transaction spanning the three documents;
// each step is individually idempotent or compensable.
type UseCase struct {
	cartRepo    domcart.Repository
	orderRepo   domorder.Repository
	paymentRepo dompayment.Repository
	gateway     dompayment.Gateway
	gatewayName string
	taxPolicy   TaxPolicy
	publisher   domoutbox.Publisher

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	gwCounter    observability.Counter
	gwHistogram  observability.Histogram
}

func New(
	cartRepo domcart.Repository,
	orderRepo domorder.Repository,
	paymentRepo dompayment.Repository,
	gw dompayment.Gateway,
	gatewayName string,
	taxPolicy TaxPolicy,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *UseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if taxPolicy == nil {
		taxPolicy = ZeroTax
	}
	metrics := tel.Metrics()

	return &UseCase{
		cartRepo:     cartRepo,
		orderRepo:    orderRepo,
		paymentRepo:  paymentRepo,
		gateway:      gw,
		gatewayName:  gatewayName,
		taxPolicy:    taxPolicy,
		publisher:    publisher,
		log:          tel.Logger().With(observability.F("service", checkoutService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		gwCounter:    metrics.Counter(observability.MGatewayRequests),
		gwHistogram:  metrics.Histogram(observability.MGatewayRequestDuration),
	}
}

type Input struct {
	UserID        string
	PaymentMethod string
	Currency      string
}

type Result struct {
	OrderID     string
	PaymentID   string
	OrderStatus domorder.Status
	TotalAmount int64
}

// Execute performs the checkout flow.
func (uc *UseCase) Execute(ctx context.Context, cmd Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseCheckout),
		observability.F("user_id", cmd.UserID),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("cart.user_id", cmd.UserID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var orderID, paymentID string

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
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseCheckout))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if paymentID != "" {
			fields = append(fields, observability.F("payment_id", paymentID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if cmd.UserID == "" {
		outcome, statusText = "error", "USER_ID_REQUIRED"
		return nil, fmt.Errorf("checkout: %w: user id is required", fault.ErrInvalidInput)
	}
	if cmd.PaymentMethod == "" {
		outcome, statusText = "error", "PAYMENT_METHOD_REQUIRED"
		return nil, fmt.Errorf("checkout: %w: payment method is required", fault.ErrInvalidInput)
	}

	snapshot, err := uc.cartRepo.Get(ctx, cmd.UserID)
	if err != nil {
		outcome, statusText = "error", "CART_LOOKUP_FAILED"
		if errors.Is(err, domcart.ErrNotFound) {
			statusText = "CART_NOT_FOUND"
		}
		return nil, err
	}
	if snapshot.IsExpired(time.Now().UTC()) {
		outcome, statusText = "error", "CART_EXPIRED"
		return nil, fmt.Errorf("checkout: %w: cart has expired", fault.ErrInvalidState)
	}

	entity, err := domorder.NewFromCart(snapshot, cmd.PaymentMethod, uc.taxPolicy(snapshot.TotalAmount))
	if err != nil {
		outcome, statusText = "error", "ORDER_CONSTRUCTION_FAILED"
		return nil, err
	}
	orderID = entity.ID

	if err = uc.orderRepo.Insert(ctx, entity); err != nil {
		outcome, statusText = "error", "ORDER_INSERT_FAILED"
		return nil, err
	}

	pay, err := dompayment.Initiate(entity.ID, cmd.UserID, entity.TotalAmount, cmd.Currency, cmd.PaymentMethod, uc.gatewayName)
	if err != nil {
		outcome, statusText = "error", "PAYMENT_CONSTRUCTION_FAILED"
		return nil, err
	}
	paymentID = pay.ID

	txnID, gwErr := uc.initiateGateway(ctx, pay)
	if gwErr != nil {
		// The gateway attempt failed before the payment document existed;
		// record the burnt attempt so the cap still holds.
		pay.IncrementAttempt()
	} else {
		pay.GatewayResponse.TransactionID = txnID
	}

	if err = uc.paymentRepo.Insert(ctx, pay); err != nil {
		outcome, statusText = "error", "PAYMENT_INSERT_FAILED"
		return nil, err
	}
	if gwErr != nil {
		outcome, statusText = "error", "GATEWAY_INITIATE_FAILED"
		return nil, fmt.Errorf("checkout: initiate gateway payment: %w", gwErr)
	}

	entity.SetPaymentSummary(domorder.PaymentSummary{
		PaymentID:     pay.ID,
		Method:        pay.Method,
		Status:        string(pay.Status),
		TransactionID: txnID,
	})
	if err = uc.orderRepo.Update(ctx, entity); err != nil {
		outcome, statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, err
	}

	// The cart is consumed by checkout; a failed delete only means the TTL
	// collects it later.
	if delErr := uc.cartRepo.Delete(ctx, cmd.UserID); delErr != nil {
		logger.Warn("cart_delete_failed", observability.F("error", delErr.Error()))
	}

	if uc.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if pubErr := uc.publisher.Publish(pubCtx, domorder.NewOrderCreatedEvent(entity)); pubErr != nil {
			logger.Warn("event_publish_failed",
				observability.F("event", "order.created"),
				observability.F("error", pubErr.Error()),
			)
		}
		cancel()
	}

	span.SetAttributes(
		attribute.String("order.id", entity.ID),
		attribute.String("payment.id", pay.ID),
		attribute.Int64("order.total_amount", entity.TotalAmount),
	)
	span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", entity.ID)))

	return &Result{
		OrderID:     entity.ID,
		PaymentID:   pay.ID,
		OrderStatus: entity.Status,
		TotalAmount: entity.TotalAmount,
	}, nil
}

func (uc *UseCase) initiateGateway(ctx context.Context, pay *dompayment.Payment) (string, error) {
	gwStart := time.Now()
	gwOutcome := "success"

	txnID, err := uc.gateway.Initiate(ctx, pay.Amount, pay.Method)
	if err != nil {
		gwOutcome = "error"
	}

	uc.gwCounter.Add(1,
		observability.L("peer", uc.gatewayName),
		observability.L("endpoint", "initiate"),
		observability.L("outcome", gwOutcome),
	)
	uc.gwHistogram.Observe(time.Since(gwStart).Seconds(),
		observability.L("peer", uc.gatewayName),
		observability.L("endpoint", "initiate"),
	)
	return txnID, err
}
