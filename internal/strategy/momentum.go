// momentum.go trades in the direction of a recent price move: if mid price
// has risen more than threshold over the lookback window, it buys
// expecting continuation; if it has fallen that much, it sells.
package strategy

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

type momentumParams struct {
	lookback  time.Duration
	threshold float64 // fractional return, e.g. 0.01 = 1%
	orderQty  float64
}

func parseMomentumParams(params map[string]interface{}) momentumParams {
	return momentumParams{
		lookback:  paramDuration(params, "lookback", 5*time.Minute),
		threshold: paramFloat(params, "threshold", 0.01),
		orderQty:  paramFloat(params, "order_qty", 0.01),
	}
}

// Momentum is the momentum template's Strategy implementation.
type Momentum struct {
	name   string
	venue  types.Venue
	symbol types.Symbol

	params atomic.Pointer[momentumParams]
	series *priceSeries

	logger *slog.Logger
}

func newMomentum(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	p := parseMomentumParams(decl.Params)
	mo := &Momentum{
		name:   decl.Name,
		venue:  types.Venue(decl.Venue),
		symbol: types.Intern(decl.Symbol),
		series: newPriceSeries(p.lookback),
		logger: logger,
	}
	mo.params.Store(&p)
	return mo, nil
}

func (mo *Momentum) Name() string         { return mo.name }
func (mo *Momentum) Template() string     { return "momentum" }
func (mo *Momentum) Venue() types.Venue   { return mo.venue }
func (mo *Momentum) Symbol() types.Symbol { return mo.symbol }
func (mo *Momentum) OnFill(types.Fill)    {}

func (mo *Momentum) SetParams(raw map[string]interface{}) error {
	cur := *mo.params.Load()
	p := momentumParams{
		lookback:  paramDuration(raw, "lookback", cur.lookback),
		threshold: paramFloat(raw, "threshold", cur.threshold),
		orderQty:  paramFloat(raw, "order_qty", cur.orderQty),
	}
	mo.params.Store(&p)
	return nil
}

func (mo *Momentum) OnTick(state MarketState) []Signal {
	p := *mo.params.Load()

	mid, ok := state.Book.MidPrice()
	if !ok {
		return nil
	}
	midF := mid.Float64()
	mo.series.add(midF, state.Now)

	oldest, ok := mo.series.oldest()
	if !ok || oldest == 0 {
		return nil
	}
	ret := (midF - oldest) / oldest
	if math.Abs(ret) < p.threshold {
		return nil
	}

	side := types.Sell
	level, ok := state.Book.BestBid()
	if ret > 0 {
		side = types.Buy
		level, ok = state.Book.BestAsk()
	}
	if !ok {
		return nil
	}

	mo.logger.Debug("momentum", "mid", midF, "return", ret, "side", side)
	return []Signal{{
		Venue: mo.venue, Symbol: mo.symbol, Side: side,
		Price: level.Price, Qty: money.NewFromFloat(p.orderQty),
		Reason: "momentum",
	}}
}
