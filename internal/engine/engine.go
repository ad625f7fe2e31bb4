// Package engine wires every component into one running process: clock
// sync, memory pools, the lock-free event queue, the timing wheel, the
// prioritized dispatch loop, the write-ahead log, per-symbol order books,
// the exchange adapters and router, risk, the OMS, strategies, and the
// stdio command surface.
//
// Grounded on the teacher's internal/engine.Engine, which played the same
// role for a single Polymarket venue (New/Start/Stop, a goroutine per
// long-running subsystem tracked by one sync.WaitGroup, context-based
// shutdown). Nearly everything that engine.go did inline — scanning for
// markets, managing per-market goroutines, routing WS events by hand —
// is now a standalone, independently tested component; this file's job
// shrinks to construction and the glue between them.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/bridge"
	"github.com/tradecore/engine/internal/clock"
	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/internal/dispatch"
	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/market"
	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/internal/oms"
	"github.com/tradecore/engine/internal/pool"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/queue"
	"github.com/tradecore/engine/internal/retry"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/stdio"
	"github.com/tradecore/engine/internal/store"
	"github.com/tradecore/engine/internal/strategy"
	"github.com/tradecore/engine/internal/timerwheel"
	"github.com/tradecore/engine/internal/wal"
	"github.com/tradecore/engine/pkg/types"
)

// bookKey identifies one venue/symbol order book.
type bookKey struct {
	venue  types.Venue
	symbol types.Symbol
}

// marketEventSource is satisfied by adapters (BinanceAdapter today) that
// expose their decoded WS feed as a channel; it is deliberately not part
// of the exchange.Adapter contract itself, since not every adapter
// implementation needs to be WS-backed (a purely REST-polling adapter
// would have no feed to expose) — the engine discovers this capability
// with an optional-interface type assertion, the same pattern io.Closer/
// http.Flusher use for an optionally-supported behavior.
type marketEventSource interface {
	MarketEvents() <-chan types.MarketEvent
}

// runnable is satisfied by adapters whose background connection loop
// (reconnect-on-drop WS client, keepalive) must be started once before
// any Subscribe call. Same optional-interface rationale as above.
type runnable interface {
	Run(ctx context.Context) error
}

// Engine owns every long-lived component and the goroutines that drive
// them, and is the only thing cmd/bot's main.go talks to.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	clk      *clock.Clock
	log      *wal.WAL
	store    *store.Store
	arenas   *pool.Pool[pool.Arena]
	dispatch *dispatch.Loop
	workers  *dispatch.WorkerPool
	wheel    *timerwheel.Wheel
	marketQ  *queue.Queue
	metricsR *metrics.Registry
	metricsS *metrics.Server

	riskMgr  *risk.Manager
	router   *exchange.Router
	adapters map[types.Venue]exchange.Adapter

	books   map[bookKey]*market.Book
	booksMu sync.RWMutex
	subs    *market.Manager
	kline   *market.Aggregator
	quality *market.Detector

	positions *position.Book
	ids       *oms.ClientIDAllocator
	orders    *oms.Manager

	strategyRunner *strategy.Runner
	fillBridge     *bridge.Bridge

	stdioHandler *stdio.Handler
	emitter      *stdio.Emitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component named above, wires them together per the
// loaded configuration, and restores persisted state (positions from the
// store, order/OMS state from the WAL), but starts nothing — call Start
// for that.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		adapters: make(map[types.Venue]exchange.Adapter),
		books:    make(map[bookKey]*market.Book),
	}

	var clockSource clock.Source // nil: Clock.Now falls back to time.Now, no sync goroutine
	e.clk = clock.New(clockSource, cfg.Clock.SyncInterval, cfg.Clock.MaxSkew, logger)

	syncMode := wal.Fsync
	if cfg.WAL.SyncMode == "async" {
		syncMode = wal.Async
	}
	walInst, err := wal.Open(wal.Config{
		Dir:            cfg.WAL.Dir,
		SyncMode:       syncMode,
		SegmentMaxSize: cfg.WAL.SegmentMaxSize,
		FlushInterval:  cfg.WAL.FlushInterval,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	e.log = walInst

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	e.store = st

	e.arenas = pool.New(func() *pool.Arena { return pool.NewArena(4096) })
	e.dispatch = dispatch.New(dispatch.DefaultConfig())
	e.workers = dispatch.NewWorkerPool(context.Background(), 8, 256)
	e.wheel = timerwheel.New(time.Millisecond)
	e.marketQ = queue.New()

	e.metricsR = metrics.New()
	if cfg.Metrics.Enabled {
		e.metricsS = metrics.NewServer(cfg.Metrics.Addr, e.metricsR, logger)
	}

	e.riskMgr = risk.NewManager(cfg.Risk, logger)
	e.router = exchange.NewRouter(retry.DefaultPolicy(), e.metricsR, logger)

	// Order state: restore from the WAL if it holds any order-lifecycle
	// records from a previous run, then opt the manager into further
	// journaling so the next crash recovers just as cleanly.
	var records []wal.Record
	if err := e.log.Replay(func(r wal.Record) error {
		records = append(records, r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("engine: replay wal: %w", err)
	}
	restoredOrders, err := oms.Restore(records)
	if err != nil {
		return nil, fmt.Errorf("engine: restore oms state: %w", err)
	}
	restoredOrders.SetWAL(e.log)
	e.orders = restoredOrders

	ids, err := oms.NewClientIDAllocator(cfg.Store.DataDir, "eng")
	if err != nil {
		return nil, fmt.Errorf("engine: client id allocator: %w", err)
	}
	e.ids = ids

	e.positions = position.NewBook()
	persisted, err := e.store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("engine: load positions: %w", err)
	}
	for _, p := range persisted {
		e.positions.Restore(p)
	}

	e.subs = market.NewManager()
	e.kline = market.NewAggregator(e.onKlineClose)
	e.quality = market.NewDetector(market.DefaultRollingTicks, 3.0, e.onAnomaly)

	e.buildAdapters()
	e.buildBooksAndSubscriptions()

	e.strategyRunner = strategy.NewRunner(e.positionSource, logger)
	for _, decl := range cfg.Strategy {
		book, err := e.bookFor(types.Venue(decl.Venue), types.Intern(decl.Symbol))
		if err != nil {
			return nil, fmt.Errorf("engine: strategy %s: %w", decl.Name, err)
		}
		if err := e.strategyRunner.Add(decl, book, time.Second); err != nil {
			return nil, fmt.Errorf("engine: add strategy %s: %w", decl.Name, err)
		}
	}

	e.fillBridge = bridge.New(e.strategyRunner.Signals(), e.riskMgr, e.positions, e.ids, e.orders, e.router, e.metricsR, logger)

	e.emitter = stdio.NewEmitter(os.Stdout, 256, e.metricsR, logger)
	// stdio's venue is whichever single venue the stdin command surface
	// targets; with one configured router venue this is unambiguous. A
	// deployment wiring multiple venues behind stdio would need a venue
	// argument on each command instead — out of scope here (spec.md's
	// ORDER/CANCEL/QUERY grammar carries no venue field).
	stdioVenue := e.defaultVenue()
	e.stdioHandler = stdio.NewHandler(stdioVenue, e.riskMgr, e.positions, e.orders, e.router, e.emitter, logger)

	return e, nil
}

func (e *Engine) defaultVenue() types.Venue {
	for v := range e.adapters {
		return v
	}
	return types.Binance
}

func (e *Engine) buildAdapters() {
	for name, venueCfg := range e.cfg.Router.Venues {
		venue := types.Venue(strings.ToLower(name))
		breaker := risk.NewBreaker(e.cfg.Circuit.FailureThreshold, e.cfg.Circuit.OpenDuration, e.cfg.Circuit.HalfOpenProbes)
		// BinanceAdapter's wire decoding (depthUpdate/trade framing) is the
		// only concrete Adapter this engine ships; every configured venue
		// is assumed to speak that wire protocol. A venue whose exchange
		// uses a materially different framing needs its own Adapter
		// implementation registered here instead — the Router and
		// everything downstream of it is already venue-agnostic.
		adapter := exchange.NewBinanceAdapter(venue, venueCfg, e.logger)
		e.adapters[venue] = adapter
		e.router.Register(venue, adapter, breaker)
	}
}

func (e *Engine) buildBooksAndSubscriptions() {
	for _, mc := range e.cfg.Market {
		venue := types.Venue(strings.ToLower(mc.Venue))
		symbol := types.Intern(mc.Symbol)
		key := bookKey{venue: venue, symbol: symbol}

		book := market.NewBook(venue, symbol, e.onBookGap)
		e.booksMu.Lock()
		e.books[key] = book
		e.booksMu.Unlock()

		for _, stream := range mc.Streams {
			switch stream {
			case "book":
				e.subs.Subscribe(venue, symbol, market.StreamBook, e.makeBookConsumer(book))
			case "trade":
				e.subs.Subscribe(venue, symbol, market.StreamTrade, e.makeTradeConsumer(venue, symbol))
			case "kline":
				// klines are derived from the trade stream, not a
				// separate wire stream, so this registers a second,
				// independent consumer of the same StreamTrade events.
				e.subs.Subscribe(venue, symbol, market.StreamTrade, e.makeKlineConsumer(venue, symbol))
			}
		}
	}
}

func (e *Engine) bookFor(venue types.Venue, symbol types.Symbol) (*market.Book, error) {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	b, ok := e.books[bookKey{venue: venue, symbol: symbol}]
	if !ok {
		return nil, fmt.Errorf("engine: no book configured for %s/%s", venue, symbol.String())
	}
	return b, nil
}

// positionSource adapts position.Book's (venue, symbol)-keyed Snapshot to
// the closure shape strategy.Runner expects, per strategy/runtime.go's own
// doc comment calling out that exact adaptation as the engine's job.
func (e *Engine) positionSource(venue types.Venue, symbol types.Symbol) (types.Position, bool) {
	return e.positions.Snapshot(venue, symbol)
}

// onBookGap is invoked when a book's pending-delta buffer overflows and it
// gives up bridging a sequence gap on its own. A genuine fix means
// fetching a fresh REST snapshot and feeding it back through
// ApplySnapshot, but exchange.Adapter exposes no snapshot-fetch method —
// only the streaming SubscribeMarket/MarketEvents surface — so there is
// no REST call this engine can make here. Until an adapter grows that
// method, a gapped book surfaces loudly (log + metric) and stays invalid
// until its next full snapshot event arrives over the WS feed itself.
func (e *Engine) onBookGap(venue types.Venue, symbol types.Symbol) {
	e.logger.Warn("book sequence gap exceeded buffer, awaiting next snapshot",
		"venue", venue, "symbol", symbol)
	e.metricsR.EventsDroppedTotal.WithLabelValues("book_gap").Inc()
}

func (e *Engine) makeBookConsumer(book *market.Book) func(types.MarketEvent) {
	return func(evt types.MarketEvent) {
		switch evt.Kind {
		case types.EventBookSnap:
			snap, ok := evt.Payload.(types.OrderBookSnapshot)
			if !ok {
				return
			}
			book.ApplySnapshot(evt.Seq, snap.Bids, snap.Asks)
		case types.EventBookDelta:
			delta, ok := evt.Payload.(exchange.BookDelta)
			if !ok {
				return
			}
			applyBookDelta(book, delta)
		}
		e.emitter.BookTop(evt.Venue, evt.Symbol, book.Snapshot())
	}
}

// applyBookDelta translates one Binance-style diff-depth event — a single
// update carrying a batch of bid/ask levels under one first/final update
// ID range — into the sequence of single-level Book.ApplyDelta calls the
// book's gap-detection state machine expects (one seq per level). Seq
// numbers are assigned contiguously starting at FirstUpdateID, which
// keeps the book's own lastSeq bookkeeping internally consistent even
// though it no longer lines up 1:1 with the venue's own update-ID numbering
// after the first level in a multi-level event.
func applyBookDelta(book *market.Book, delta exchange.BookDelta) {
	seq := delta.FirstUpdateID
	for _, lvl := range delta.Bids {
		_ = book.ApplyDelta(seq, types.Buy, lvl.Price, lvl.Qty)
		seq++
	}
	for _, lvl := range delta.Asks {
		_ = book.ApplyDelta(seq, types.Sell, lvl.Price, lvl.Qty)
		seq++
	}
}

func (e *Engine) makeTradeConsumer(venue types.Venue, symbol types.Symbol) func(types.MarketEvent) {
	return func(evt types.MarketEvent) {
		trade, ok := evt.Payload.(exchange.Trade)
		if !ok {
			return
		}
		e.quality.ObservePrice(venue, symbol, trade.Price.Float64(), trade.Time)
		e.quality.ObserveVolume(venue, symbol, trade.Qty.Float64(), trade.Time)
	}
}

func (e *Engine) makeKlineConsumer(venue types.Venue, symbol types.Symbol) func(types.MarketEvent) {
	return func(evt types.MarketEvent) {
		trade, ok := evt.Payload.(exchange.Trade)
		if !ok {
			return
		}
		e.kline.OnTrade(venue, symbol, time.Minute, trade.Price, trade.Qty, trade.Time)
	}
}

func (e *Engine) onKlineClose(k market.Kline) {
	e.logger.Debug("kline closed", "venue", k.Venue, "symbol", k.Symbol, "close", k.Close.String())
}

func (e *Engine) onAnomaly(a market.Anomaly) {
	e.logger.Warn("market quality anomaly", "venue", a.Venue, "symbol", a.Symbol, "kind", a.Kind, "severity", a.Severity)
}

// Start launches every background goroutine: the dispatch loop, the
// timing wheel, per-venue adapter connections and market-event pumps, the
// risk manager's kill-switch listener, the strategy runner, the fill
// bridge, the stdio command handler, and the metrics server.
func (e *Engine) Start(ctx context.Context, stdin io.Reader) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.goRun(e.dispatch.Run)
	e.goRun(e.clk.Run)
	e.goRun(e.riskMgr.Run)
	e.goRun(e.strategyRunner.Run)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.fillBridge.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.emitter.Run(e.ctx)
	}()
	e.emitter.EngineStarted()

	stop := make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.wheel.Run(stop)
	}()
	go func() {
		<-e.ctx.Done()
		close(stop)
	}()

	if e.metricsS != nil {
		go func() {
			if err := e.metricsS.Start(); err != nil {
				e.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	for venue, adapter := range e.adapters {
		venue, adapter := venue, adapter
		if r, ok := adapter.(runnable); ok {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				if err := r.Run(e.ctx); err != nil && e.ctx.Err() == nil {
					e.logger.Error("adapter connection loop exited", "venue", venue, "error", err)
				}
			}()
		}
		if src, ok := adapter.(marketEventSource); ok {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.pumpMarketEvents(src.MarketEvents())
			}()
		}
	}

	for _, mc := range e.cfg.Market {
		venue := types.Venue(strings.ToLower(mc.Venue))
		symbol := types.Intern(mc.Symbol)
		adapter, ok := e.adapters[venue]
		if !ok {
			return fmt.Errorf("engine: market %s/%s configured with no adapter", venue, symbol.String())
		}
		if err := adapter.SubscribeMarket(e.ctx, symbol); err != nil {
			return fmt.Errorf("engine: subscribe %s/%s: %w", venue, symbol.String(), err)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.marketQueueDrainLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollFillsLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.persistPositionsLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollBalancesLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.stdioHandler.Run(e.ctx, stdin)
	}()

	return nil
}

func (e *Engine) goRun(fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// pumpMarketEvents moves decoded WS events from one adapter's channel onto
// the shared lock-free queue, decoupling however many adapter goroutines
// exist from the single consumer that ultimately applies them to books —
// C3's whole reason for being an unbounded MPMC structure rather than a
// single buffered channel.
func (e *Engine) pumpMarketEvents(events <-chan types.MarketEvent) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.marketQ.Push(evt)
		}
	}
}

func (e *Engine) marketQueueDrainLoop() {
	for {
		if e.ctx.Err() != nil {
			return
		}
		v, ok := e.marketQ.Pop()
		if !ok {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		evt := v.(types.MarketEvent)
		e.dispatch.Submit(dispatch.Normal, func() { e.handleMarketEvent(evt) })
	}
}

func (e *Engine) handleMarketEvent(evt types.MarketEvent) {
	arena := e.arenas.Get()
	defer func() {
		arena.Reset()
		e.arenas.Put(arena)
	}()

	e.emitter.Market(evt)
	e.subs.Publish(streamKindFor(evt.Kind), evt)
}

func streamKindFor(kind types.MarketEventKind) market.StreamKind {
	if kind == types.EventTrade {
		return market.StreamTrade
	}
	return market.StreamBook
}

// pollFillsLoop reconciles fills for open orders by polling QueryOrder,
// since the reference adapter's SubscribeUserStream is a documented no-op
// (see internal/exchange/binance.go) rather than an authenticated
// listen-key stream. Every tick runs each venue's open orders through the
// shared worker pool so the blocking REST calls never occupy the dispatch
// loop goroutine; reconciled fills are dispatched at High priority, same
// as a push-delivered fill would be.
func (e *Engine) pollFillsLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, order := range e.orders.Open() {
				order := order
				e.workers.Submit(func() { e.reconcileOrder(order) })
			}
		}
	}
}

func (e *Engine) reconcileOrder(tracked *types.Order) {
	adapter, ok := e.adapters[tracked.Venue]
	if !ok {
		return
	}
	latest, err := adapter.QueryOrder(e.ctx, tracked.ClientOrderID)
	if err != nil || latest == nil {
		return
	}
	if !latest.CumQty.GreaterThan(tracked.CumQty) {
		if latest.State != tracked.State {
			e.dispatch.Submit(dispatch.High, func() {
				if err := e.orders.Transition(tracked.ClientOrderID, latest.State); err != nil {
					e.logger.Debug("reconcile: transition ignored", "client_order_id", tracked.ClientOrderID, "error", err)
				}
			})
		}
		return
	}

	deltaQty := latest.CumQty.Sub(tracked.CumQty)
	fill := types.Fill{
		ClientOrderID: tracked.ClientOrderID,
		Venue:         tracked.Venue,
		Symbol:        tracked.Symbol,
		Side:          tracked.Side,
		Price:         latest.AvgFillPrice,
		Qty:           deltaQty,
		Timestamp:     time.Now(),
	}
	e.dispatch.Submit(dispatch.High, func() { e.applyFill(fill) })
}

// applyFill is the engine's single call site for a fill discovered
// outside the stdio command path: it drives the same three independent
// OnFill consumers the stdio happy path does — the canonical OMS/position
// state update, strategy-internal fill bookkeeping (toxicity/flow
// trackers), and the NDJSON presentation layer — since each owns a
// distinct concern and none of them may substitute for another.
func (e *Engine) applyFill(fill types.Fill) {
	e.fillBridge.OnFill(fill)
	e.strategyRunner.OnFill(fill)
	e.stdioHandler.OnFill(fill)
	e.metricsR.FillsTotal.WithLabelValues(string(fill.Venue), fill.Symbol.String()).Inc()
}

// persistPositionsLoop snapshots every tracked position to the store
// every 10 seconds (Stop saves once more on shutdown). On restart,
// positions are restored only from these snapshots: order state recovers
// from the WAL, but position changes from fills applied after the last
// snapshot are not recovered.
func (e *Engine) persistPositionsLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range e.positions.All() {
				if err := e.store.Save(p); err != nil {
					e.logger.Error("persist position", "venue", p.Venue, "symbol", p.Symbol, "error", err)
				}
			}
		}
	}
}

// pollBalancesLoop periodically fetches each venue's account balances and
// emits an account event per asset, giving the stdio consumer the same
// balance visibility the teacher's dashboard offered over HTTP, but over
// the one surface this core actually speaks (§6).
func (e *Engine) pollBalancesLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for venue, adapter := range e.adapters {
				balances, err := adapter.FetchBalances(e.ctx)
				if err != nil {
					e.logger.Debug("fetch balances", "venue", venue, "error", err)
					continue
				}
				for _, bal := range balances {
					e.emitter.Account(venue, bal)
				}
			}
		}
	}
}

// Stop cancels every background goroutine, waits for them to exit, does a
// final position snapshot, and closes the WAL and adapters.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.emitter.EngineStopped()
	e.cancel()
	e.dispatch.Stop()
	e.wg.Wait()

	for _, p := range e.positions.All() {
		if err := e.store.Save(p); err != nil {
			e.logger.Error("final position save", "venue", p.Venue, "symbol", p.Symbol, "error", err)
		}
	}

	for venue, adapter := range e.adapters {
		if err := adapter.Close(); err != nil {
			e.logger.Error("close adapter", "venue", venue, "error", err)
		}
	}

	if e.metricsS != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.metricsS.Stop(ctx); err != nil {
			e.logger.Error("stop metrics server", "error", err)
		}
	}

	if err := e.log.Close(); err != nil {
		e.logger.Error("close wal", "error", err)
	}
}
