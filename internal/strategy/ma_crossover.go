// ma_crossover.go trades the crossover of a fast and slow moving average of
// mid price: fast crossing above slow is a bullish signal (lift the ask),
// fast crossing below slow is bearish (hit the bid). A signal only fires on
// the tick the cross actually happens, not on every tick it remains
// crossed, to avoid re-submitting the same order every refresh.
package strategy

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

type maCrossoverParams struct {
	fastWindow int
	slowWindow int
	lookback   time.Duration
	orderQty   float64
}

func parseMACrossoverParams(params map[string]interface{}) maCrossoverParams {
	return maCrossoverParams{
		fastWindow: paramInt(params, "fast_window", 5),
		slowWindow: paramInt(params, "slow_window", 20),
		lookback:   paramDuration(params, "lookback", 10*time.Minute),
		orderQty:   paramFloat(params, "order_qty", 0.01),
	}
}

type crossState int

const (
	crossUnknown crossState = iota
	crossAbove
	crossBelow
)

// MACrossover is the ma_crossover template's Strategy implementation.
type MACrossover struct {
	name   string
	venue  types.Venue
	symbol types.Symbol

	params atomic.Pointer[maCrossoverParams]
	series *priceSeries
	last   crossState

	logger *slog.Logger
}

func newMACrossover(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	p := parseMACrossoverParams(decl.Params)
	mc := &MACrossover{
		name:   decl.Name,
		venue:  types.Venue(decl.Venue),
		symbol: types.Intern(decl.Symbol),
		series: newPriceSeries(p.lookback),
		logger: logger,
	}
	mc.params.Store(&p)
	return mc, nil
}

func (mc *MACrossover) Name() string         { return mc.name }
func (mc *MACrossover) Template() string     { return "ma_crossover" }
func (mc *MACrossover) Venue() types.Venue   { return mc.venue }
func (mc *MACrossover) Symbol() types.Symbol { return mc.symbol }
func (mc *MACrossover) OnFill(types.Fill)    {}

func (mc *MACrossover) SetParams(raw map[string]interface{}) error {
	cur := *mc.params.Load()
	p := maCrossoverParams{
		fastWindow: paramInt(raw, "fast_window", cur.fastWindow),
		slowWindow: paramInt(raw, "slow_window", cur.slowWindow),
		lookback:   paramDuration(raw, "lookback", cur.lookback),
		orderQty:   paramFloat(raw, "order_qty", cur.orderQty),
	}
	mc.params.Store(&p)
	return nil
}

func (mc *MACrossover) OnTick(state MarketState) []Signal {
	p := *mc.params.Load()

	mid, ok := state.Book.MidPrice()
	if !ok {
		return nil
	}
	mc.series.add(mid.Float64(), state.Now)

	fast, fastOK := mc.series.mean(p.fastWindow)
	slow, slowOK := mc.series.mean(p.slowWindow)
	if !fastOK || !slowOK {
		return nil
	}

	var current crossState
	switch {
	case fast > slow:
		current = crossAbove
	case fast < slow:
		current = crossBelow
	default:
		return nil
	}

	defer func() { mc.last = current }()
	if current == mc.last {
		return nil
	}

	side := types.Buy
	price, ok := state.Book.BestAsk()
	if current == crossBelow {
		side = types.Sell
		price, ok = state.Book.BestBid()
	}
	if !ok {
		return nil
	}

	mc.logger.Debug("ma crossover", "fast", fast, "slow", slow, "side", side)
	return []Signal{{
		Venue: mc.venue, Symbol: mc.symbol, Side: side,
		Price: price.Price, Qty: money.NewFromFloat(p.orderQty),
		Reason: "ma_crossover",
	}}
}
