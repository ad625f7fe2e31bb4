// Package strategy implements the engine's pluggable signal generators.
//
// A Strategy owns no exchange connectivity of its own: given the latest
// order-book snapshot for its (venue, symbol) and the position currently
// held, OnTick returns zero or more Signals describing orders it wants
// resting in the market. The bridge (internal/bridge) turns Signals into
// risk-checked, routed orders; Strategy never talks to internal/exchange
// or internal/risk directly, which keeps a strategy trivially unit
// testable against a hand-built OrderBookSnapshot.
//
// Five templates ship built in: market_making (Avellaneda-Stoikov,
// adapted from the teacher's Maker), ma_crossover, mean_reversion,
// momentum and grid. New adds the one a config.StrategyDecl names.
package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// Signal is one order a strategy wants resting in the market. The bridge
// is responsible for translating it into a risk-checked PlaceOrderRequest.
type Signal struct {
	Venue  types.Venue
	Symbol types.Symbol
	Side   types.Side
	Price  money.Decimal
	Qty    money.Decimal
	Reason string // short tag, e.g. "bid", "ask", "grid_level_3"
}

// MarketState is everything a strategy sees on a tick.
type MarketState struct {
	Book     types.OrderBookSnapshot
	Position money.Decimal // signed qty currently held at Venue/Symbol
	Now      time.Time
}

// Strategy generates order signals for one (venue, symbol) pair.
// Implementations must be safe for concurrent SetParams/OnTick/OnFill
// calls; the runtime may reload params from a different goroutine than
// the one ticking it.
type Strategy interface {
	Name() string
	Template() string
	Venue() types.Venue
	Symbol() types.Symbol

	// OnTick computes the desired signals for the current market state.
	// Each returned signal is submitted as a new order; orders resting
	// from earlier ticks are neither cancelled nor reconciled, and an
	// empty result submits nothing.
	OnTick(state MarketState) []Signal

	// OnFill lets a strategy react to its own executions (e.g. toxic
	// flow detection). Strategies with no use for fills may no-op.
	OnFill(fill types.Fill)

	// SetParams hot-reloads tunable parameters without restarting the
	// strategy instance. Unknown keys are ignored; missing keys keep
	// their previous value.
	SetParams(params map[string]interface{}) error
}

// Factory builds one Strategy instance from its declaration.
type Factory func(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error)

var factories = map[string]Factory{
	"market_making":  newMarketMaking,
	"ma_crossover":   newMACrossover,
	"mean_reversion": newMeanReversion,
	"momentum":       newMomentum,
	"grid":           newGrid,
}

// New builds the Strategy named by decl.Template. config.Validate already
// rejects unknown templates before the engine starts, so an error here
// means Validate and this registry have drifted apart.
func New(decl config.StrategyDecl, logger *slog.Logger) (Strategy, error) {
	factory, ok := factories[decl.Template]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown template %q", decl.Template)
	}
	return factory(decl, logger.With("strategy", decl.Name, "template", decl.Template))
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func paramInt(params map[string]interface{}, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func paramDuration(params map[string]interface{}, key string, def time.Duration) time.Duration {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return def
		}
		return parsed
	case float64:
		return time.Duration(d) * time.Second
	default:
		return def
	}
}
