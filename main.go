package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vendkit/vendcore/internal/application"
	"github.com/vendkit/vendcore/internal/application/checkout"
	"github.com/vendkit/vendcore/internal/application/dispense"
	"github.com/vendkit/vendcore/internal/application/lifecycle"
	apppayment "github.com/vendkit/vendcore/internal/application/payment"
	"github.com/vendkit/vendcore/internal/config"
	domcart "github.com/vendkit/vendcore/internal/domain/cart"
	dominv "github.com/vendkit/vendcore/internal/domain/inventory"
	"github.com/vendkit/vendcore/internal/infrastructure/gateway"
	"github.com/vendkit/vendcore/internal/infrastructure/memory"
	"github.com/vendkit/vendcore/internal/infrastructure/mongodb"
	infraobs "github.com/vendkit/vendcore/internal/infrastructure/observability"
	"github.com/vendkit/vendcore/internal/infrastructure/observability/oteltrace"
	"github.com/vendkit/vendcore/internal/infrastructure/observability/prometrics"
	"github.com/vendkit/vendcore/internal/infrastructure/observability/zaplogger"
	"github.com/vendkit/vendcore/internal/infrastructure/outbox"
	"github.com/vendkit/vendcore/internal/infrastructure/rediscache"
	"github.com/vendkit/vendcore/internal/observability"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		panic(err)
	}

	logger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Environment),
	)
	defer func() {
		if s, ok := logger.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()

	counters, histograms := buildMetrics()
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, memSlots, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store_init_failed", observability.F("error", err.Error()))
		return
	}
	defer cleanup()

	bus := outbox.NewBus(logger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	lifecycle.NewWorker(tel).Register(bus)

	sim := gateway.NewSimulator()
	sim.SetSuccessRate(cfg.GatewaySuccessRate)

	engine := application.NewEngine(stores, sim, "simulator", checkout.ZeroTax, bus, tel)

	if cfg.SweeperEnabled {
		sweeper := apppayment.NewSweeper(stores.Payments, cfg.SweeperInterval, tel)
		sweeper.Start(context.Background())
		defer sweeper.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		logger.Info("metrics_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_error", observability.F("error", err.Error()))
		}
	}()

	// With the in-memory stores there is no external traffic source, so run
	// one simulated purchase to exercise the wiring end to end.
	if memSlots != nil {
		seedDemoMachine(memSlots)
		runDemo(ctx, engine, sim, logger)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("metrics_server_stopped")
	}
}

func buildMetrics() (map[observability.MetricKey]observability.Counter, map[observability.MetricKey]observability.Histogram) {
	reg := prometrics.New("", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: reg.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MLifecycleEvents: reg.Counter(
			string(observability.MLifecycleEvents),
			"Lifecycle events dispatched off the bus.",
			"event",
		),
		observability.MStockConflicts: reg.Counter(
			string(observability.MStockConflicts),
			"Dispense attempts rejected for insufficient stock.",
			"machine_id", "slot_id",
		),
		observability.MGatewayRequests: reg.Counter(
			string(observability.MGatewayRequests),
			"Payment gateway requests.",
			"peer", "endpoint", "outcome",
		),
		observability.MPaymentsExpired: reg.Counter(
			string(observability.MPaymentsExpired),
			"Pending payments flipped to EXPIRED by the sweeper.",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: reg.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			nil,
			"use_case",
		),
		observability.MGatewayRequestDuration: reg.Histogram(
			string(observability.MGatewayRequestDuration),
			"Payment gateway request duration in seconds.",
			nil,
			"peer", "endpoint",
		),
	}
	return counters, histograms
}

// buildStores selects Mongo-backed stores when a URI is configured and falls
// back to the in-memory ones otherwise. The returned slot repository is
// non-nil only in memory mode, where main seeds it for the demo run.
func buildStores(ctx context.Context, cfg *config.Config, logger observability.Logger) (application.Stores, *memory.SlotRepository, func(), error) {
	cleanup := func() {}

	var stores application.Stores
	var memSlots *memory.SlotRepository

	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := mongodb.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores, nil, cleanup, err
		}
		cleanup = func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(disconnectCtx)
		}

		carts := mongodb.NewCartRepository(db)
		payments := mongodb.NewPaymentRepository(db)
		if err := carts.CreateIndexes(ctx); err != nil {
			logger.Warn("cart_index_create_failed", observability.F("error", err.Error()))
		}
		if err := payments.CreateIndexes(ctx); err != nil {
			logger.Warn("payment_index_create_failed", observability.F("error", err.Error()))
		}

		stores = application.Stores{
			Carts:    carts,
			Orders:   mongodb.NewOrderRepository(db),
			Payments: payments,
			Slots:    mongodb.NewSlotRepository(db),
		}
	} else {
		memSlots = memory.NewSlotRepository()
		stores = application.Stores{
			Carts:    memory.NewCartRepository(),
			Orders:   memory.NewOrderRepository(),
			Payments: memory.NewPaymentRepository(),
			Slots:    memSlots,
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		stores.CartCache = rediscache.NewCartCache(client)
		prev := cleanup
		cleanup = func() {
			_ = client.Close()
			prev()
		}
	}

	return stores, memSlots, cleanup, nil
}

func seedDemoMachine(slots *memory.SlotRepository) {
	slots.SeedMachine(&dominv.Machine{
		ID:   "VM-001",
		Name: "lobby",
		Slots: []dominv.Slot{
			{SlotID: "A1", ProductID: "cola-330", Quantity: 10, MaxCapacity: 10, Price: 250},
			{SlotID: "B2", ProductID: "chips-50g", Quantity: 6, MaxCapacity: 8, Price: 180},
		},
		UpdatedAt: time.Now().UTC(),
	})
}

// runDemo walks one purchase through every stage: cart, checkout, gateway
// callback, dispense. Failures only log; the daemon keeps serving metrics.
func runDemo(ctx context.Context, engine *application.Engine, sim *gateway.Simulator, logger observability.Logger) {
	const userID = "demo-user"
	log := logger.With(observability.F("component", "demo"))

	if _, err := engine.Cart.AddItem(ctx, userID, domcart.Line{
		ProductID:   "cola-330",
		ProductName: "Cola 330ml",
		MachineID:   "VM-001",
		SlotID:      "A1",
		Quantity:    1,
		UnitPrice:   250,
	}); err != nil {
		log.Error("demo_add_item_failed", observability.F("error", err.Error()))
		return
	}

	res, err := engine.Checkout.Execute(ctx, checkout.Input{
		UserID:        userID,
		PaymentMethod: "card",
		Currency:      "USD",
	})
	if err != nil {
		log.Error("demo_checkout_failed", observability.F("error", err.Error()))
		return
	}
	log.Info("demo_order_placed",
		observability.F("order_id", res.OrderID),
		observability.F("payment_id", res.PaymentID),
		observability.F("total_amount", res.TotalAmount),
	)

	outcome := apppayment.OutcomeFailed
	if sim.Outcome() {
		outcome = apppayment.OutcomeSuccess
	}
	cb, err := engine.Callback.Execute(ctx, apppayment.CallbackInput{
		PaymentID: res.PaymentID,
		Outcome:   outcome,
	})
	if err != nil {
		log.Error("demo_callback_failed", observability.F("error", err.Error()))
		return
	}
	log.Info("demo_payment_settled", observability.F("status", string(cb.PaymentStatus)))
	if outcome != apppayment.OutcomeSuccess {
		return
	}

	disp, err := engine.Dispense.Execute(ctx, dispense.Input{
		OrderID:   res.OrderID,
		ProductID: "cola-330",
		SlotID:    "A1",
	})
	if err != nil {
		log.Error("demo_dispense_failed", observability.F("error", err.Error()))
		return
	}
	log.Info("demo_dispensed",
		observability.F("order_status", string(disp.OrderStatus)),
		observability.F("remaining_lines", len(disp.RemainingLines)),
	)
}
