// mean_reversion.go fades deviations from a rolling mean: when mid price
// drops zThreshold standard deviations below its recent mean, it buys
// expecting a bounce; when it rises that far above, it sells expecting a
// pullback.
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

type meanReversionParams struct {
	lookback   time.Duration
	window     int
	zThreshold float64
	orderQty   float64
}

func parseMeanReversionParams(params map[string]interface{}) meanReversionParams {
	return meanReversionParams{
		lookback:   paramDuration(params, "lookback", 15*time.Minute),
		window:     paramInt(params, "window", 30),
		zThreshold: paramFloat(params, "z_threshold", 2.0),
		orderQty:   paramFloat(params, "order_qty", 0.01),
	}
}

// MeanReversion is the mean_reversion template's Strategy implementation.
type MeanReversion struct {
	name   string
	venue  types.Venue
	symbol types.Symbol

	params atomic.Pointer[meanReversionParams]
	series *priceSeries

	logger *slog.Logger
}

func newMeanReversion(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	p := parseMeanReversionParams(decl.Params)
	mr := &MeanReversion{
		name:   decl.Name,
		venue:  types.Venue(decl.Venue),
		symbol: types.Intern(decl.Symbol),
		series: newPriceSeries(p.lookback),
		logger: logger,
	}
	mr.params.Store(&p)
	return mr, nil
}

func (mr *MeanReversion) Name() string         { return mr.name }
func (mr *MeanReversion) Template() string     { return "mean_reversion" }
func (mr *MeanReversion) Venue() types.Venue   { return mr.venue }
func (mr *MeanReversion) Symbol() types.Symbol { return mr.symbol }
func (mr *MeanReversion) OnFill(types.Fill)    {}

func (mr *MeanReversion) SetParams(raw map[string]interface{}) error {
	cur := *mr.params.Load()
	p := meanReversionParams{
		lookback:   paramDuration(raw, "lookback", cur.lookback),
		window:     paramInt(raw, "window", cur.window),
		zThreshold: paramFloat(raw, "z_threshold", cur.zThreshold),
		orderQty:   paramFloat(raw, "order_qty", cur.orderQty),
	}
	mr.params.Store(&p)
	return nil
}

func (mr *MeanReversion) OnTick(state MarketState) []Signal {
	p := *mr.params.Load()

	mid, ok := state.Book.MidPrice()
	if !ok {
		return nil
	}
	midF := mid.Float64()
	mr.series.add(midF, state.Now)

	mean, stddev, ok := mr.series.stddev(p.window)
	if !ok || stddev == 0 {
		return nil
	}

	z := (midF - mean) / stddev
	if math.Abs(z) < p.zThreshold {
		return nil
	}

	side := types.Buy
	level, ok := state.Book.BestBid()
	if z > 0 {
		side = types.Sell
		level, ok = state.Book.BestAsk()
	}
	if !ok {
		return nil
	}

	mr.logger.Debug("mean reversion", "mid", midF, "mean", mean, "z", z, "side", side)
	return []Signal{{
		Venue: mr.venue, Symbol: mr.symbol, Side: side,
		Price: level.Price, Qty: money.NewFromFloat(p.orderQty),
		Reason: "mean_reversion",
	}}
}
