package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/oms"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// Handler drives stdin commands through the same risk/OMS/router path
// strategy-originated signals take (C19/C17/C16 via internal/bridge),
// except the client order ID always comes from the command line instead
// of being allocated by C14 — a direct ORDER command names its own id,
// and a collision is reported rather than silently reused.
type Handler struct {
	venue     types.Venue
	riskMgr   *risk.Manager
	positions *position.Book
	orders    *oms.Manager
	router    *exchange.Router
	emitter   *Emitter
	logger    *slog.Logger
}

// NewHandler builds a Handler. venue is the default venue every stdin
// ORDER/CANCEL/QUERY targets; the command grammar carries no venue field
// of its own (spec.md §6).
func NewHandler(
	venue types.Venue,
	riskMgr *risk.Manager,
	positions *position.Book,
	orders *oms.Manager,
	router *exchange.Router,
	emitter *Emitter,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		venue:     venue,
		riskMgr:   riskMgr,
		positions: positions,
		orders:    orders,
		router:    router,
		emitter:   emitter,
		logger:    logger.With("component", "stdio_handler"),
	}
}

// Run reads newline-delimited commands from in until ctx is cancelled or
// in reaches EOF. A malformed line emits a parse error event and is
// otherwise ignored; it never stops the loop.
func (h *Handler) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, err := Parse(line)
		if err != nil {
			h.emitter.Error(codeParse, err.Error(), nil)
			continue
		}
		h.dispatch(ctx, cmd)
	}
	if err := scanner.Err(); err != nil {
		h.logger.Error("stdin scan error", "error", err)
	}
}

func (h *Handler) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CommandOrder:
		h.handleOrder(ctx, cmd)
	case CommandCancel:
		h.handleCancel(ctx, cmd)
	case CommandQuery:
		h.handleQuery(cmd)
	}
}

func (h *Handler) handleOrder(ctx context.Context, cmd Command) {
	if h.orders.Get(cmd.ClientOrderID) != nil {
		h.emitter.Error("IdCollision", fmt.Sprintf("client_order_id %s already in use", cmd.ClientOrderID),
			map[string]interface{}{"client_order_id": cmd.ClientOrderID})
		return
	}

	posQty := money.Zero
	if pos, ok := h.positions.Snapshot(h.venue, cmd.Symbol); ok {
		posQty = pos.Qty
	}

	intent := risk.OrderIntent{Symbol: cmd.Symbol, Side: cmd.Side, Price: cmd.Price, Qty: cmd.Qty}
	result := h.riskMgr.Check(intent, posQty)
	if !result.Passed {
		rule := ""
		if len(result.ChecksRun) > 0 {
			rule = result.ChecksRun[len(result.ChecksRun)-1]
		}
		h.emitter.Error("RiskRejected", result.Reason, map[string]interface{}{
			"rule":            rule,
			"client_order_id": cmd.ClientOrderID,
		})
		return
	}

	h.orders.Create(cmd.ClientOrderID, h.venue, cmd.Symbol, cmd.Side, types.OrderTypeLimit, types.GTC, cmd.Price, cmd.Qty)
	h.emitter.OrderReceived(cmd.ClientOrderID)

	if err := h.orders.Transition(cmd.ClientOrderID, types.StateSubmitted); err != nil {
		h.logger.Error("illegal pre-submit transition", "client_order_id", cmd.ClientOrderID, "error", err)
		return
	}
	h.emitter.OrderUpdate(h.orders.Get(cmd.ClientOrderID))

	order, err := h.router.PlaceOrder(ctx, h.venue, exchange.PlaceOrderRequest{
		ClientOrderID: cmd.ClientOrderID,
		Symbol:        cmd.Symbol,
		Side:          cmd.Side,
		Type:          types.OrderTypeLimit,
		TIF:           types.GTC,
		Price:         cmd.Price,
		Qty:           cmd.Qty,
	})
	if err != nil {
		if terr := h.orders.Transition(cmd.ClientOrderID, types.StateRejected); terr != nil {
			h.logger.Error("failed to mark order rejected", "client_order_id", cmd.ClientOrderID, "error", terr)
		}
		h.emitter.Error("ExchangeReject", err.Error(), map[string]interface{}{"client_order_id": cmd.ClientOrderID})
		return
	}

	if err := h.orders.Transition(cmd.ClientOrderID, order.State); err != nil {
		h.logger.Error("failed to apply venue-reported state", "client_order_id", cmd.ClientOrderID, "state", order.State, "error", err)
		return
	}
	h.emitter.OrderUpdate(h.orders.Get(cmd.ClientOrderID))
}

func (h *Handler) handleCancel(ctx context.Context, cmd Command) {
	existing := h.orders.Get(cmd.ClientOrderID)
	if existing == nil {
		h.emitter.Error("UnknownOrder", fmt.Sprintf("no tracked order %s", cmd.ClientOrderID),
			map[string]interface{}{"client_order_id": cmd.ClientOrderID})
		return
	}

	if err := h.orders.Transition(cmd.ClientOrderID, types.StateCancelRequested); err != nil {
		// The order already reached a terminal state — e.g. a fill raced
		// the cancel and completed it first. Per spec.md §8 scenario S3
		// this is a no-op, not an error: log and move on.
		h.logger.Info("cancel ignored, order already terminal", "client_order_id", cmd.ClientOrderID, "state", existing.State)
		return
	}
	h.emitter.OrderUpdate(h.orders.Get(cmd.ClientOrderID))

	if err := h.router.CancelOrder(ctx, existing.Venue, cmd.ClientOrderID); err != nil {
		h.emitter.Error("ExchangeReject", err.Error(), map[string]interface{}{"client_order_id": cmd.ClientOrderID})
	}
}

func (h *Handler) handleQuery(cmd Command) {
	order := h.orders.Get(cmd.ClientOrderID)
	if order == nil {
		h.emitter.Error("UnknownOrder", fmt.Sprintf("no tracked order %s", cmd.ClientOrderID),
			map[string]interface{}{"client_order_id": cmd.ClientOrderID})
		return
	}
	h.emitter.OrderState(order)
}

// OnFill reports a fill that has already been applied to the OMS and
// position book by the engine's single fill-application path
// (internal/bridge.Bridge.OnFill, which both strategy- and stdin-sourced
// orders share since they live in the same oms.Manager/position.Book).
// Handler never re-applies a fill; it only emits the NDJSON record for
// one that already landed, looking the order back up for its post-fill
// state.
func (h *Handler) OnFill(fill types.Fill) {
	order := h.orders.Get(fill.ClientOrderID)
	if order == nil {
		return
	}
	h.emitter.Fill(fill)
	h.emitter.OrderUpdate(order)
}
