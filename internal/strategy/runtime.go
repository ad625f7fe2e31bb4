// runtime.go hosts every configured Strategy instance and drives its
// tick/fill lifecycle. One Runner owns N strategies (one per
// config.StrategyDecl); each runs on its own ticker so a slow symbol's
// book never delays another's tick. Signals are funneled onto a single
// bounded channel for the bridge (internal/bridge) to consume.
//
// Grounded on the teacher's Maker.Run per-market ticker loop
// (internal/strategy/maker.go), generalized from one hard-coded strategy
// per market to an arbitrary set of named, templated strategy instances.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// BookSource is queried once per tick for the latest snapshot of a
// strategy's (venue, symbol) book. internal/market.Book satisfies this.
type BookSource interface {
	Snapshot() types.OrderBookSnapshot
}

// PositionSource is queried once per tick for the current signed position.
// internal/position.Book satisfies this via a thin adapter in the engine
// wiring, since its Snapshot takes (venue, symbol) arguments.
type PositionSource func(venue types.Venue, symbol types.Symbol) (types.Position, bool)

// instance pairs a running Strategy with the data sources it ticks against.
type instance struct {
	strategy Strategy
	book     BookSource
	interval time.Duration
}

// Runner owns and drives every configured Strategy.
type Runner struct {
	mu        sync.RWMutex
	instances map[string]*instance
	positions PositionSource

	signalCh chan []Signal
	logger   *slog.Logger
}

const signalBuffer = 128

// NewRunner builds an empty Runner. positions is consulted once per tick
// per strategy to report the current position into MarketState.
func NewRunner(positions PositionSource, logger *slog.Logger) *Runner {
	return &Runner{
		instances: make(map[string]*instance),
		positions: positions,
		signalCh:  make(chan []Signal, signalBuffer),
		logger:    logger.With("component", "strategy_runtime"),
	}
}

// Signals returns the channel every strategy's non-empty OnTick result is
// published to.
func (r *Runner) Signals() <-chan []Signal { return r.signalCh }

// Add builds and registers a strategy instance from its declaration. book
// must already be subscribed to the declared (venue, symbol) market data.
func (r *Runner) Add(decl config.StrategyDecl, book BookSource, refreshInterval time.Duration) error {
	strat, err := New(decl, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[decl.Name] = &instance{strategy: strat, book: book, interval: refreshInterval}
	return nil
}

// Reload hot-swaps params on a running strategy instance by name.
func (r *Runner) Reload(name string, params map[string]interface{}) error {
	r.mu.RLock()
	inst, ok := r.instances[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return inst.strategy.SetParams(params)
}

// OnFill dispatches a fill to the strategy instance whose (venue, symbol)
// matches it. Multiple strategies quoting the same instrument all see it.
func (r *Runner) OnFill(fill types.Fill) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		if inst.strategy.Venue() == fill.Venue && inst.strategy.Symbol() == fill.Symbol {
			inst.strategy.OnFill(fill)
		}
	}
}

// Run starts one ticking goroutine per registered strategy instance and
// blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.mu.RLock()
	instances := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *instance) {
			defer wg.Done()
			r.tickLoop(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

func (r *Runner) tickLoop(ctx context.Context, inst *instance) {
	ticker := time.NewTicker(inst.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(inst)
		}
	}
}

func (r *Runner) tick(inst *instance) {
	snap := inst.book.Snapshot()

	posQty := money.Zero
	if r.positions != nil {
		if pos, ok := r.positions(inst.strategy.Venue(), inst.strategy.Symbol()); ok {
			posQty = pos.Qty
		}
	}

	signals := inst.strategy.OnTick(MarketState{Book: snap, Position: posQty, Now: time.Now()})
	if len(signals) == 0 {
		return
	}
	select {
	case r.signalCh <- signals:
	default:
		r.logger.Warn("signal channel full, dropping tick", "strategy", inst.strategy.Name())
	}
}
