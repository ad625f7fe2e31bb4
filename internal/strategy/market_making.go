// market_making.go runs the Avellaneda-Stoikov algorithm: post a bid below
// and an ask above a reservation price that accounts for inventory risk.
// When the book is long, the reservation price is pulled down to attract
// sellers; when short, pushed up to attract buyers.
//
//	reservation_price = mid - q * gamma * sigma^2 * T
//	optimal_spread    = gamma * sigma^2 * T + (2/gamma) * ln(1 + gamma/k)
//	bid = reservation_price - optimal_spread/2
//	ask = reservation_price + optimal_spread/2
//
// q is the inventory skew in [-1, 1]: current position scaled by the
// configured max position size. Adapted from the teacher's Maker
// (internal/strategy/maker.go), generalized from Polymarket's [0,1]-bounded
// YES/NO prices to ordinary tick-sized instrument prices, and from a
// normalized-to-1-unit inventory to an arbitrary max position size.
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

// marketMakingParams are the hot-reloadable tunables for one MarketMaking
// instance.
type marketMakingParams struct {
	gamma            float64 // risk aversion
	sigma            float64 // volatility estimate
	k                float64 // order arrival intensity
	t                float64 // time horizon
	defaultSpreadBps float64
	orderSizeQty     float64
	minOrderQty      float64
	maxPositionQty   float64
	tickDecimals     int32

	flowWindow              time.Duration
	flowToxicityThreshold   float64
	flowCooldownPeriod      time.Duration
	flowMaxSpreadMultiplier float64
}

func parseMarketMakingParams(params map[string]interface{}) marketMakingParams {
	return marketMakingParams{
		gamma:                   paramFloat(params, "gamma", 0.1),
		sigma:                   paramFloat(params, "sigma", 0.02),
		k:                       paramFloat(params, "k", 1.5),
		t:                       paramFloat(params, "t", 1.0),
		defaultSpreadBps:        paramFloat(params, "default_spread_bps", 10),
		orderSizeQty:            paramFloat(params, "order_size_qty", 0.01),
		minOrderQty:             paramFloat(params, "min_order_qty", 0.0001),
		maxPositionQty:          paramFloat(params, "max_position_qty", 1.0),
		tickDecimals:            int32(paramInt(params, "tick_decimals", 2)),
		flowWindow:              paramDuration(params, "flow_window", 60*time.Second),
		flowToxicityThreshold:   paramFloat(params, "flow_toxicity_threshold", 0.6),
		flowCooldownPeriod:      paramDuration(params, "flow_cooldown_period", 120*time.Second),
		flowMaxSpreadMultiplier: paramFloat(params, "flow_max_spread_multiplier", 3.0),
	}
}

// MarketMaking is the market_making template's Strategy implementation.
type MarketMaking struct {
	name   string
	venue  types.Venue
	symbol types.Symbol

	params atomic.Pointer[marketMakingParams]
	flow   *FlowTracker

	logger *slog.Logger
}

func newMarketMaking(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	p := parseMarketMakingParams(decl.Params)
	mm := &MarketMaking{
		name:   decl.Name,
		venue:  types.Venue(decl.Venue),
		symbol: types.Intern(decl.Symbol),
		flow:   NewFlowTracker(p.flowWindow, p.flowToxicityThreshold, p.flowCooldownPeriod, p.flowMaxSpreadMultiplier),
		logger: logger,
	}
	mm.params.Store(&p)
	return mm, nil
}

func (mm *MarketMaking) Name() string         { return mm.name }
func (mm *MarketMaking) Template() string     { return "market_making" }
func (mm *MarketMaking) Venue() types.Venue   { return mm.venue }
func (mm *MarketMaking) Symbol() types.Symbol { return mm.symbol }

// SetParams hot-reloads the Avellaneda-Stoikov tunables. The flow tracker
// is not rebuilt: it keeps its accumulated fill history and the thresholds
// it was created with, so flow_* keys have no effect on a reload.
func (mm *MarketMaking) SetParams(raw map[string]interface{}) error {
	merged := mm.mergedParams(raw)
	mm.params.Store(&merged)
	return nil
}

func (mm *MarketMaking) mergedParams(raw map[string]interface{}) marketMakingParams {
	cur := *mm.params.Load()
	next := parseMarketMakingParams(raw)
	if _, ok := raw["gamma"]; !ok {
		next.gamma = cur.gamma
	}
	if _, ok := raw["sigma"]; !ok {
		next.sigma = cur.sigma
	}
	if _, ok := raw["k"]; !ok {
		next.k = cur.k
	}
	if _, ok := raw["t"]; !ok {
		next.t = cur.t
	}
	if _, ok := raw["default_spread_bps"]; !ok {
		next.defaultSpreadBps = cur.defaultSpreadBps
	}
	if _, ok := raw["order_size_qty"]; !ok {
		next.orderSizeQty = cur.orderSizeQty
	}
	if _, ok := raw["min_order_qty"]; !ok {
		next.minOrderQty = cur.minOrderQty
	}
	if _, ok := raw["max_position_qty"]; !ok {
		next.maxPositionQty = cur.maxPositionQty
	}
	if _, ok := raw["tick_decimals"]; !ok {
		next.tickDecimals = cur.tickDecimals
	}
	return next
}

func (mm *MarketMaking) OnFill(fill types.Fill) {
	mm.flow.AddFill(fill)
}

// OnTick computes quotes using the Avellaneda-Stoikov model. Internal math
// runs in float64 (the model is an approximation, not a ledger figure);
// only the final bid/ask/qty are converted to money.Decimal.
func (mm *MarketMaking) OnTick(state MarketState) []Signal {
	p := *mm.params.Load()

	mid, ok := state.Book.MidPrice()
	if !ok {
		return nil
	}
	midF := mid.Float64()

	q := clamp(state.Position.Float64()/p.maxPositionQty, -1, 1)

	flowMultiplier := mm.flow.GetSpreadMultiplier()
	minSpread := (p.defaultSpreadBps / 10000.0) * flowMultiplier

	reservationPrice := midF - q*p.gamma*p.sigma*p.sigma*p.t
	optSpread := p.gamma*p.sigma*p.sigma*p.t + (2.0/p.gamma)*math.Log(1+p.gamma/p.k)
	optSpread *= flowMultiplier

	bidRaw := reservationPrice - optSpread/2
	askRaw := reservationPrice + optSpread/2
	if (askRaw - bidRaw) < minSpread {
		bidRaw = reservationPrice - minSpread/2
		askRaw = reservationPrice + minSpread/2
	}

	tick := math.Pow(10, -float64(p.tickDecimals))
	if bidRaw <= 0 {
		bidRaw = tick
	}
	if bidRaw >= askRaw {
		askRaw = bidRaw + tick
	}

	bidPrice := roundDownToTick(bidRaw, p.tickDecimals)
	askPrice := roundUpToTick(askRaw, p.tickDecimals)
	if bidPrice >= askPrice {
		askPrice = bidPrice + tick
	}

	absQ := math.Abs(q)
	sizeFactor := 1.0 - 0.5*absQ // reduce size when heavily positioned
	qty := math.Max(p.orderSizeQty*sizeFactor, p.minOrderQty)

	mm.logger.Debug("quotes computed",
		"mid", midF, "q", q, "reservation", reservationPrice,
		"bid", bidPrice, "ask", askPrice, "qty", qty,
		"flow_spread_multiplier", flowMultiplier,
	)

	signals := make([]Signal, 0, 2)
	if bidPrice > 0 {
		signals = append(signals, Signal{
			Venue: mm.venue, Symbol: mm.symbol, Side: types.Buy,
			Price: money.NewFromFloat(bidPrice).Round(p.tickDecimals),
			Qty:   money.NewFromFloat(qty),
			Reason: "bid",
		})
	}
	if askPrice > 0 {
		signals = append(signals, Signal{
			Venue: mm.venue, Symbol: mm.symbol, Side: types.Sell,
			Price: money.NewFromFloat(askPrice).Round(p.tickDecimals),
			Qty:   money.NewFromFloat(qty),
			Reason: "ask",
		})
	}
	return signals
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundDownToTick(v float64, decimals int32) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Floor(v*pow) / pow
}

func roundUpToTick(v float64, decimals int32) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Ceil(v*pow) / pow
}
