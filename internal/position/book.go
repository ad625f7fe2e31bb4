// Package position tracks signed per-(venue, symbol) holdings across
// fills: current quantity, average entry price, and realized/unrealized
// PnL.
package position

import (
	"sync"
	"time"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

type key struct {
	venue  types.Venue
	symbol types.Symbol
}

// Book tracks one signed position per (venue, symbol): positive Qty is
// long, negative is short. A fill on the opposite side of an open
// position first closes (realizing PnL) up to the existing size, then
// opens a fresh position in the new direction with whatever size
// remains — the side-flip-on-close case the teacher's binary-market
// Inventory never needed, since YES and NO were tracked as two always-
// non-negative quantities instead of one signed one.
//
// Adapted from the teacher's strategy.Inventory
// (internal/strategy/inventory.go): same avg-entry/realized-PnL
// arithmetic and RWMutex-guarded single-struct-per-market shape,
// generalized from a YES/NO pair to one signed Decimal quantity per
// (venue, symbol) and extended with the flip case.
type Book struct {
	mu  sync.RWMutex
	pos map[key]*types.Position
}

// NewBook builds an empty position book.
func NewBook() *Book {
	return &Book{pos: make(map[key]*types.Position)}
}

// OnFill applies one fill to the tracked position for (venue, symbol),
// returning the updated position.
func (b *Book) OnFill(venue types.Venue, symbol types.Symbol, side types.Side, price, qty money.Decimal) *types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{venue, symbol}
	p, ok := b.pos[k]
	if !ok {
		p = &types.Position{Venue: venue, Symbol: symbol}
		b.pos[k] = p
	}

	signedQty := qty.Mul(money.NewFromInt(side.Sign()))

	if p.Qty.IsZero() || sameSign(p.Qty, signedQty) {
		openOrAdd(p, price, signedQty)
	} else {
		reduceOrFlip(p, price, signedQty)
	}
	p.UpdatedAt = time.Now()
	return copyPosition(p)
}

// openOrAdd extends an existing position (or opens a flat one) in the
// fill's direction, recomputing the weighted-average entry price.
func openOrAdd(p *types.Position, price, signedQty money.Decimal) {
	existingNotional := p.AvgEntryPrice.Mul(p.Qty.Abs())
	addedNotional := price.Mul(signedQty.Abs())
	newQty := p.Qty.Add(signedQty)
	if !newQty.IsZero() {
		p.AvgEntryPrice = existingNotional.Add(addedNotional).Div(newQty.Abs())
	}
	p.Qty = newQty
}

// reduceOrFlip applies a fill opposite the current position's
// direction: it closes up to the existing size (realizing PnL at the
// position's average entry price), and if the fill's size exceeds the
// existing position, opens a fresh position in the new direction with
// the remainder.
func reduceOrFlip(p *types.Position, price, signedQty money.Decimal) {
	existingAbs := p.Qty.Abs()
	fillAbs := signedQty.Abs()

	closeQty := money.Min(existingAbs, fillAbs)

	// PnL per unit closed is (fillPrice - entryPrice) if the existing
	// position was long, or (entryPrice - fillPrice) if short.
	var pnlPerUnit money.Decimal
	if p.Qty.IsPositive() {
		pnlPerUnit = price.Sub(p.AvgEntryPrice)
	} else {
		pnlPerUnit = p.AvgEntryPrice.Sub(price)
	}
	p.RealizedPnL = p.RealizedPnL.Add(pnlPerUnit.Mul(closeQty))

	remainder := fillAbs.Sub(closeQty)
	closedSignedQty := closeQty.Mul(money.NewFromInt(sign(p.Qty)))
	p.Qty = p.Qty.Sub(closedSignedQty)

	if p.Qty.IsZero() {
		p.AvgEntryPrice = money.Zero
	}

	if !remainder.IsZero() {
		p.Qty = remainder.Mul(money.NewFromInt(sign(signedQty)))
		p.AvgEntryPrice = price
	}
}

func sign(d money.Decimal) int64 {
	if d.IsNegative() {
		return -1
	}
	return 1
}

func sameSign(a, b money.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// UpdateMarkToMarket recomputes unrealized PnL for (venue, symbol)
// against a current mark price.
func (b *Book) UpdateMarkToMarket(venue types.Venue, symbol types.Symbol, markPrice money.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pos[key{venue, symbol}]
	if !ok {
		return
	}
	switch {
	case p.Qty.IsPositive():
		p.UnrealizedPnL = markPrice.Sub(p.AvgEntryPrice).Mul(p.Qty)
	case p.Qty.IsNegative():
		p.UnrealizedPnL = p.AvgEntryPrice.Sub(markPrice).Mul(p.Qty.Abs())
	default:
		p.UnrealizedPnL = money.Zero
	}
}

// Snapshot returns a copy of the tracked position for (venue, symbol),
// or the zero value and false if none exists.
func (b *Book) Snapshot(venue types.Venue, symbol types.Symbol) (types.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pos[key{venue, symbol}]
	if !ok {
		return types.Position{}, false
	}
	return *copyPosition(p), true
}

// All returns copies of every tracked position.
func (b *Book) All() []types.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]types.Position, 0, len(b.pos))
	for _, p := range b.pos {
		result = append(result, *copyPosition(p))
	}
	return result
}

// Restore installs a previously-persisted position, used on startup.
func (b *Book) Restore(p types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := p
	b.pos[key{p.Venue, p.Symbol}] = &cp
}

func copyPosition(p *types.Position) *types.Position {
	cp := *p
	return &cp
}
