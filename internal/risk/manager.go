// Package risk enforces both pre-trade order limits and portfolio-level
// kill-switch protection.
//
// Manager.Check runs a sequential first-failure rule chain against every
// prospective order (position size, notional, price deviation, per-symbol
// rate) before it reaches the router. Independently, Manager.Report feeds
// a stream of per-symbol PnL/price updates that drive a portfolio kill
// switch: daily loss and rapid price movement both trip it, and once
// tripped it stays active for CooldownAfterKill, during which Check
// rejects every order outright.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// CheckResult is the outcome of one Check call, including the list of
// rules evaluated before a pass or first failure — an audit trail for
// why an order was accepted or rejected.
type CheckResult struct {
	Passed    bool
	Reason    string
	ChecksRun []string
}

// OrderIntent describes a prospective order for pre-trade evaluation.
type OrderIntent struct {
	Symbol types.Symbol
	Side   types.Side
	Price  money.Decimal
	Qty    money.Decimal
}

// PositionReport is submitted after every fill (or mark-to-market tick)
// so the manager can track realized/unrealized PnL toward the daily loss
// limit and mid-price movement toward the kill switch.
type PositionReport struct {
	Symbol        types.Symbol
	MidPrice      money.Decimal
	RealizedPnL   money.Decimal
	UnrealizedPnL money.Decimal
	Timestamp     time.Time
}

// KillSignal tells the engine to cancel resting orders. Global true means
// cancel across every symbol; otherwise only Symbol is affected.
type KillSignal struct {
	Symbol types.Symbol
	Global bool
	Reason string
}

type priceAnchor struct {
	price     money.Decimal
	timestamp time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

// Manager is the pre-trade rule chain plus the portfolio kill switch.
//
// Adapted from the teacher's risk.Manager (report channel, kill-switch
// cooldown/emitKill idiom, periodic cooldown-expiry ticker) combined with
// _examples/rishavpaul-system-design/order-matching-engine/internal/risk/checker.go's
// sequential first-failure-return chain, kept here as the ChecksRun audit
// trail on CheckResult.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	latest           map[types.Symbol]PositionReport
	totalRealizedPnL money.Decimal
	totalUnrealized  money.Decimal
	referencePrices  map[types.Symbol]money.Decimal
	priceAnchors     map[types.Symbol]priceAnchor
	rateWindows      map[types.Symbol]*rateWindow
	killSwitchActive bool
	killSwitchUntil  time.Time

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager builds a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:             cfg,
		logger:          logger.With("component", "risk"),
		latest:          make(map[types.Symbol]PositionReport),
		referencePrices: make(map[types.Symbol]money.Decimal),
		priceAnchors:    make(map[types.Symbol]priceAnchor),
		rateWindows:     make(map[types.Symbol]*rateWindow),
		reportCh:        make(chan PositionReport, 100),
		killCh:          make(chan KillSignal, 10),
	}
}

// Run drains PositionReports and periodically clears an expired kill
// switch even when no reports arrive.
func (rm *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position update (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "symbol", report.Symbol)
	}
}

// KillCh returns the channel the engine reads kill signals from.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// IsKillSwitchActive reports whether the kill switch is currently engaged,
// clearing it first if its cooldown has elapsed.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.isKillSwitchActiveLocked()
}

func (rm *Manager) isKillSwitchActiveLocked() bool {
	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// Check runs the sequential pre-trade rule chain against a prospective
// order, returning on the first failed rule. currentPositionQty is the
// signed quantity already held in intent.Symbol before this order.
func (rm *Manager) Check(intent OrderIntent, currentPositionQty money.Decimal) CheckResult {
	result := CheckResult{Passed: true, ChecksRun: make([]string, 0, 5)}

	result.ChecksRun = append(result.ChecksRun, "kill_switch")
	if rm.IsKillSwitchActive() {
		return CheckResult{Passed: false, Reason: "kill switch active", ChecksRun: result.ChecksRun}
	}

	result.ChecksRun = append(result.ChecksRun, "position_size")
	if limit, ok := rm.cfg.MaxPositionSize[intent.Symbol.String()]; ok {
		projected := currentPositionQty.Add(intent.Qty.Mul(money.NewFromInt(intent.Side.Sign())))
		if projected.Abs().GreaterThan(money.NewFromFloat(limit)) {
			return CheckResult{
				Passed:    false,
				Reason:    fmt.Sprintf("projected position %s would exceed max %.8g for %s", projected, limit, intent.Symbol),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	result.ChecksRun = append(result.ChecksRun, "notional")
	notional := intent.Price.Mul(intent.Qty)
	if rm.cfg.MaxNotional > 0 && notional.GreaterThan(money.NewFromFloat(rm.cfg.MaxNotional)) {
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("order notional %s exceeds max %.2f", notional, rm.cfg.MaxNotional),
			ChecksRun: result.ChecksRun,
		}
	}

	result.ChecksRun = append(result.ChecksRun, "price_deviation")
	if ref, ok := rm.referencePrice(intent.Symbol); ok && rm.cfg.PriceDeviationPct > 0 && !ref.IsZero() {
		deviation := intent.Price.Sub(ref).Div(ref).Abs()
		if deviation.GreaterThan(money.NewFromFloat(rm.cfg.PriceDeviationPct)) {
			return CheckResult{
				Passed: false,
				Reason: fmt.Sprintf("price %s deviates %.2f%% from reference %s (max %.1f%%)",
					intent.Price, deviation.Float64()*100, ref, rm.cfg.PriceDeviationPct*100),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	result.ChecksRun = append(result.ChecksRun, "rate_per_symbol")
	if !rm.allowRate(intent.Symbol) {
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("exceeded %d orders/sec for %s", rm.cfg.RatePerSymbol, intent.Symbol),
			ChecksRun: result.ChecksRun,
		}
	}

	return result
}

func (rm *Manager) referencePrice(symbol types.Symbol) (money.Decimal, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	p, ok := rm.referencePrices[symbol]
	return p, ok
}

// allowRate enforces a fixed one-second window of at most RatePerSymbol
// orders per symbol. A RatePerSymbol of 0 disables the check.
func (rm *Manager) allowRate(symbol types.Symbol) bool {
	if rm.cfg.RatePerSymbol <= 0 {
		return true
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := time.Now()
	w, ok := rm.rateWindows[symbol]
	if !ok || now.Sub(w.start) >= time.Second {
		rm.rateWindows[symbol] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= rm.cfg.RatePerSymbol {
		return false
	}
	w.count++
	return true
}

// SetReferencePrice updates the reference price used by the price
// deviation check, typically called after every trade print.
func (rm *Manager) SetReferencePrice(symbol types.Symbol, price money.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.referencePrices[symbol] = price
}

// RemoveSymbol clears tracked state for a symbol the engine stopped
// trading.
func (rm *Manager) RemoveSymbol(symbol types.Symbol) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.latest, symbol)
	delete(rm.priceAnchors, symbol)
	delete(rm.referencePrices, symbol)
	delete(rm.rateWindows, symbol)
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.latest[report.Symbol] = report

	rm.totalRealizedPnL = money.Zero
	rm.totalUnrealized = money.Zero
	for _, pos := range rm.latest {
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
		rm.totalUnrealized = rm.totalUnrealized.Add(pos.UnrealizedPnL)
	}

	if rm.cfg.MaxDailyLoss > 0 {
		totalPnL := rm.totalRealizedPnL.Add(rm.totalUnrealized)
		if totalPnL.LessThan(money.NewFromFloat(-rm.cfg.MaxDailyLoss)) {
			rm.emitKillLocked(report.Symbol, true, "max daily loss breached")
		}
	}

	rm.checkPriceMovementLocked(report)
}

// checkPriceMovementLocked detects rapid price swings using a rolling
// anchor: the first report in a window becomes the anchor, and any later
// report within the window that has moved more than KillSwitchDropPct
// from it trips the kill switch. Once the window elapses, the anchor
// resets to the latest price.
func (rm *Manager) checkPriceMovementLocked(report PositionReport) {
	if rm.cfg.KillSwitchDropPct <= 0 || rm.cfg.KillSwitchWindow <= 0 {
		return
	}

	anchor, ok := rm.priceAnchors[report.Symbol]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > rm.cfg.KillSwitchWindow {
		rm.priceAnchors[report.Symbol] = priceAnchor{price: report.MidPrice, timestamp: report.Timestamp}
		return
	}
	if anchor.price.IsZero() {
		return
	}

	pctChange := report.MidPrice.Sub(anchor.price).Div(anchor.price).Abs()
	if pctChange.GreaterThan(money.NewFromFloat(rm.cfg.KillSwitchDropPct)) {
		rm.emitKillLocked(report.Symbol, false, fmt.Sprintf("rapid price movement: %.2f%% within %s", pctChange.Float64()*100, rm.cfg.KillSwitchWindow))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.isKillSwitchActiveLocked()
}

// emitKillLocked activates the kill switch, starts the cooldown timer,
// and sends a KillSignal to the engine. If the kill channel is full, the
// stale signal is drained first so the latest kill reason is always
// delivered. Caller must hold rm.mu.
func (rm *Manager) emitKillLocked(symbol types.Symbol, global bool, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("kill switch engaged", "symbol", symbol, "global", global, "reason", reason, "cooldown_until", rm.killSwitchUntil)

	sig := KillSignal{Symbol: symbol, Global: global, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
