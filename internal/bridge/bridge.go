// Package bridge turns strategy signals into risk-checked, routed orders.
//
// It is the only path from strategies to the router (orders from stdin
// commands reach the router through internal/stdio's Handler instead):
// strategies never see an Adapter or a risk.Manager (internal/strategy's
// package doc explains why), so everything between "a strategy wants to
// quote" and "an order is resting at a venue" lives here. Grounded on the
// teacher's Maker.reconcileOrders, which enqueued orders inline inside the
// market-making strategy itself; extracted as a standalone component so
// every strategy template, not just market-making, gets the same risk
// gate and order lifecycle tracking. Each signal becomes a new order; the
// bridge does not diff signals against orders already resting.
package bridge

import (
	"context"
	"log/slog"

	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/internal/oms"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/strategy"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// Bridge consumes signal batches from a strategy.Runner and, for each
// signal, pre-trade checks it, allocates a client order ID, tracks it
// through the OMS state machine, and submits it through the router.
type Bridge struct {
	signals   <-chan []strategy.Signal
	riskMgr   *risk.Manager
	positions *position.Book
	ids       *oms.ClientIDAllocator
	orders    *oms.Manager
	router    *exchange.Router
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// New builds a Bridge reading signals off ch.
func New(
	ch <-chan []strategy.Signal,
	riskMgr *risk.Manager,
	positions *position.Book,
	ids *oms.ClientIDAllocator,
	orders *oms.Manager,
	router *exchange.Router,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Bridge {
	return &Bridge{
		signals:   ch,
		riskMgr:   riskMgr,
		positions: positions,
		ids:       ids,
		orders:    orders,
		router:    router,
		metrics:   reg,
		logger:    logger,
	}
}

// Run drains signal batches until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-b.signals:
			if !ok {
				return
			}
			for _, sig := range batch {
				b.handle(ctx, sig)
			}
		}
	}
}

func (b *Bridge) handle(ctx context.Context, sig strategy.Signal) {
	posQty := money.Zero
	if pos, ok := b.positions.Snapshot(sig.Venue, sig.Symbol); ok {
		posQty = pos.Qty
	}

	intent := risk.OrderIntent{Symbol: sig.Symbol, Side: sig.Side, Price: sig.Price, Qty: sig.Qty}
	result := b.riskMgr.Check(intent, posQty)
	if !result.Passed {
		b.metrics.OrdersRejected.WithLabelValues(string(sig.Venue), sig.Symbol.String(), result.Reason).Inc()
		b.logger.Warn("signal rejected by risk check",
			"venue", sig.Venue, "symbol", sig.Symbol, "reason", result.Reason, "checks_run", result.ChecksRun)
		return
	}

	clientOrderID, err := b.ids.Next()
	if err != nil {
		b.logger.Error("failed to allocate client order id", "error", err)
		return
	}

	b.orders.Create(clientOrderID, sig.Venue, sig.Symbol, sig.Side, types.OrderTypeLimit, types.GTC, sig.Price, sig.Qty)
	if err := b.orders.Transition(clientOrderID, types.StateSubmitted); err != nil {
		b.logger.Error("illegal pre-submit transition", "client_order_id", clientOrderID, "error", err)
		return
	}

	// The router itself records OrdersSubmitted/OrdersRejected against the
	// adapter call outcome, so the bridge only tracks the pre-trade reject.
	order, err := b.router.PlaceOrder(ctx, sig.Venue, exchange.PlaceOrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Type:          types.OrderTypeLimit,
		TIF:           types.GTC,
		Price:         sig.Price,
		Qty:           sig.Qty,
	})
	if err != nil {
		b.logger.Error("order placement failed", "client_order_id", clientOrderID, "venue", sig.Venue, "error", err)
		if terr := b.orders.Transition(clientOrderID, types.StateRejected); terr != nil {
			b.logger.Error("failed to mark order rejected after placement error", "client_order_id", clientOrderID, "error", terr)
		}
		return
	}

	if err := b.orders.Transition(clientOrderID, order.State); err != nil {
		b.logger.Error("failed to apply venue-reported order state", "client_order_id", clientOrderID, "state", order.State, "error", err)
	}
}

// OnFill applies a venue fill to both the OMS order record and the
// position book, keeping the two in lockstep so the next signal's
// risk check sees an up-to-date position.
func (b *Bridge) OnFill(fill types.Fill) {
	if _, err := b.orders.ApplyFill(fill.ClientOrderID, fill.Price, fill.Qty); err != nil {
		b.logger.Error("failed to apply fill to order", "client_order_id", fill.ClientOrderID, "error", err)
	}
	b.positions.OnFill(fill.Venue, fill.Symbol, fill.Side, fill.Price, fill.Qty)
}
