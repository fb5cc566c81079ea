package application

import (
	appcart "github.com/vendkit/vendcore/internal/application/cart"
	"github.com/vendkit/vendcore/internal/application/checkout"
	"github.com/vendkit/vendcore/internal/application/dispense"
	apppayment "github.com/vendkit/vendcore/internal/application/payment"
	domcart "github.com/vendkit/vendcore/internal/domain/cart"
	dominv "github.com/vendkit/vendcore/internal/domain/inventory"
	domorder "github.com/vendkit/vendcore/internal/domain/order"
	domoutbox "github.com/vendkit/vendcore/internal/domain/outbox"
	dompayment "github.com/vendkit/vendcore/internal/domain/payment"
	"github.com/vendkit/vendcore/internal/observability"
)

// Stores groups the persistence ports the engine runs on. CartCache is
// optional; everything else is required.
type Stores struct {
	Carts     domcart.Repository
	CartCache domcart.Cache
	Orders    domorder.Repository
	Payments  dompayment.Repository
	Slots     dominv.Repository
}

// Engine bundles the lifecycle use cases behind one wiring point. Callers
// embed it behind whatever transport they run (machine firmware bridge,
// operator tooling, tests).
type Engine struct {
	Cart        *appcart.Service
	Checkout    *checkout.UseCase
	Callback    *apppayment.CallbackUseCase
	Refund      *apppayment.RefundUseCase
	Dispense    *dispense.UseCase
	CancelOrder *dispense.CancelUseCase
}

func NewEngine(
	stores Stores,
	gw dompayment.Gateway,
	gatewayName string,
	tax checkout.TaxPolicy,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Engine {
	return &Engine{
		Cart:        appcart.NewService(stores.Carts, stores.CartCache, tel),
		Checkout:    checkout.New(stores.Carts, stores.Orders, stores.Payments, gw, gatewayName, tax, publisher, tel),
		Callback:    apppayment.NewCallbackUseCase(stores.Payments, stores.Orders, publisher, tel),
		Refund:      apppayment.NewRefundUseCase(stores.Payments, stores.Orders, publisher, tel),
		Dispense:    dispense.New(stores.Orders, stores.Slots, publisher, tel),
		CancelOrder: dispense.NewCancel(stores.Orders, stores.Payments, stores.Slots, publisher, tel),
	}
}
