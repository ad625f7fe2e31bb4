// grid.go lays a symmetric ladder of resting buy and sell orders around
// mid price, spaced by a fixed percentage. It profits from range-bound
// chop: each rung that fills is expected to be unwound by the rung above
// or below it as price oscillates, without trying to predict direction.
package strategy

import (
	"log/slog"
	"sync/atomic"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

type gridParams struct {
	levels         int
	spacingPct     float64
	qtyPerLevel    float64
	maxPositionQty float64
}

func parseGridParams(params map[string]interface{}) gridParams {
	return gridParams{
		levels:         paramInt(params, "levels", 5),
		spacingPct:     paramFloat(params, "spacing_pct", 0.005),
		qtyPerLevel:    paramFloat(params, "qty_per_level", 0.01),
		maxPositionQty: paramFloat(params, "max_position_qty", 1.0),
	}
}

// Grid is the grid template's Strategy implementation.
type Grid struct {
	name   string
	venue  types.Venue
	symbol types.Symbol

	params atomic.Pointer[gridParams]
	logger *slog.Logger
}

func newGrid(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	p := parseGridParams(decl.Params)
	g := &Grid{
		name:   decl.Name,
		venue:  types.Venue(decl.Venue),
		symbol: types.Intern(decl.Symbol),
		logger: logger,
	}
	g.params.Store(&p)
	return g, nil
}

func (g *Grid) Name() string         { return g.name }
func (g *Grid) Template() string     { return "grid" }
func (g *Grid) Venue() types.Venue   { return g.venue }
func (g *Grid) Symbol() types.Symbol { return g.symbol }
func (g *Grid) OnFill(types.Fill)    {}

func (g *Grid) SetParams(raw map[string]interface{}) error {
	cur := *g.params.Load()
	p := gridParams{
		levels:         paramInt(raw, "levels", cur.levels),
		spacingPct:     paramFloat(raw, "spacing_pct", cur.spacingPct),
		qtyPerLevel:    paramFloat(raw, "qty_per_level", cur.qtyPerLevel),
		maxPositionQty: paramFloat(raw, "max_position_qty", cur.maxPositionQty),
	}
	g.params.Store(&p)
	return nil
}

// OnTick lays levels "levels" deep on both sides of mid, skipping a side
// once the position scaled by that side's direction would exceed
// maxPositionQty — so a grid that's already maximally long stops adding
// more bids but keeps its asks resting to unwind.
func (g *Grid) OnTick(state MarketState) []Signal {
	p := *g.params.Load()

	mid, ok := state.Book.MidPrice()
	if !ok {
		return nil
	}
	midF := mid.Float64()
	posF := state.Position.Float64()

	signals := make([]Signal, 0, p.levels*2)
	for i := 1; i <= p.levels; i++ {
		offset := float64(i) * p.spacingPct

		if posF+p.qtyPerLevel <= p.maxPositionQty {
			bidPrice := midF * (1 - offset)
			signals = append(signals, Signal{
				Venue: g.venue, Symbol: g.symbol, Side: types.Buy,
				Price:  money.NewFromFloat(bidPrice),
				Qty:    money.NewFromFloat(p.qtyPerLevel),
				Reason: "grid_buy",
			})
		}
		if posF-p.qtyPerLevel >= -p.maxPositionQty {
			askPrice := midF * (1 + offset)
			signals = append(signals, Signal{
				Venue: g.venue, Symbol: g.symbol, Side: types.Sell,
				Price:  money.NewFromFloat(askPrice),
				Qty:    money.NewFromFloat(p.qtyPerLevel),
				Reason: "grid_sell",
			})
		}
	}

	g.logger.Debug("grid levels computed", "mid", midF, "position", posF, "levels", len(signals))
	return signals
}
