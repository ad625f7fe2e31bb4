// Package market provides the local order book mirror, the subscription
// manager, kline aggregation and market-quality detection.
//
// Book mirrors one venue/symbol's order book, fed by a sequenced stream of
// snapshots and deltas. It enforces strict sequence validation: a delta
// whose seq isn't exactly lastSeq+1 is buffered (not applied) and a
// resnapshot is requested once the gap-buffer would otherwise grow
// unbounded.
//
// Grounded on the teacher's market.Book (RWMutex-guarded snapshot,
// BestBidAsk/MidPrice/IsStale) for the outer shape; the teacher's own
// ApplyPriceChange never actually merges deltas into the mirrored book
// (it only refreshes a staleness hash), so the delta-application and
// gap/resnapshot state machine here is new. Each side is backed by
// pricetree.go's red-black tree (grounded on order-matching-engine's
// internal/orderbook/rbtree.go) rather than a map sorted on read, so
// BestBidAsk/MidPrice are O(1) via the tree's cached min/max pointer per
// spec.md §4.6, and a single level insert/remove is O(log n) instead of
// forcing an O(n log n) full re-sort on every delta.
package market

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// maxGapBuffer bounds how many out-of-order deltas Book will hold before
// giving up and requesting a fresh snapshot.
const maxGapBuffer = 64

// ResnapshotFunc is called when the book detects a sequence gap it cannot
// bridge from its buffer; the caller is expected to fetch a fresh REST
// snapshot and feed it back through ApplySnapshot.
type ResnapshotFunc func(venue types.Venue, symbol types.Symbol)

// Book is a concurrency-safe local mirror of one venue/symbol's order
// book.
type Book struct {
	mu      sync.RWMutex
	venue   types.Venue
	symbol  types.Symbol
	bids    *priceTree // best = highest price
	asks    *priceTree // best = lowest price
	lastSeq uint64
	valid   bool // true once a snapshot has been applied
	pending []pendingDelta
	updated time.Time

	onGap ResnapshotFunc
}

type pendingDelta struct {
	seq   uint64
	side  types.Side
	price money.Decimal
	qty   money.Decimal
}

// NewBook creates an empty book for venue/symbol. onGap may be nil in
// tests that don't care about resnapshot requests.
func NewBook(venue types.Venue, symbol types.Symbol, onGap ResnapshotFunc) *Book {
	return &Book{
		venue:  venue,
		symbol: symbol,
		bids:   newPriceTree(true),
		asks:   newPriceTree(false),
		onGap:  onGap,
	}
}

// ApplySnapshot replaces the whole book and establishes a new baseline
// sequence number. Any buffered deltas with seq <= snapshotSeq are
// discarded as stale; deltas with seq == snapshotSeq+1 onward are replayed
// immediately so a resnapshot doesn't lose updates that arrived while it
// was in flight.
func (b *Book) ApplySnapshot(seq uint64, bids, asks []types.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = newPriceTree(true)
	b.asks = newPriceTree(false)
	for _, l := range bids {
		if !l.Qty.IsZero() {
			b.bids.Upsert(l.Price, l.Qty)
		}
	}
	for _, l := range asks {
		if !l.Qty.IsZero() {
			b.asks.Upsert(l.Price, l.Qty)
		}
	}
	b.lastSeq = seq
	b.valid = true
	b.updated = time.Now()

	remaining := b.pending[:0]
	for _, d := range b.pending {
		if d.seq <= seq {
			continue
		}
		remaining = append(remaining, d)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].seq < remaining[j].seq })
	b.pending = nil
	for _, d := range remaining {
		b.applyLocked(d)
	}
}

// ApplyDelta applies one incremental price-level update. If seq doesn't
// extend the book contiguously, the delta is buffered; once the buffer
// would overflow, a resnapshot is requested and the buffer is cleared.
// The cleared deltas are dropped; until the snapshot arrives the book is
// invalid and ApplyDelta returns an error.
func (b *Book) ApplyDelta(seq uint64, side types.Side, price, qty money.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.valid {
		return fmt.Errorf("market: book %s/%s has no snapshot yet", b.venue, b.symbol.String())
	}

	d := pendingDelta{seq: seq, side: side, price: price, qty: qty}

	switch {
	case seq == b.lastSeq+1:
		b.applyLocked(d)
		b.drainPendingLocked()
	case seq <= b.lastSeq:
		// stale, already applied or superseded by the current snapshot
	default:
		b.pending = append(b.pending, d)
		if len(b.pending) > maxGapBuffer {
			b.pending = nil
			b.valid = false
			if b.onGap != nil {
				b.onGap(b.venue, b.symbol)
			}
		}
	}
	return nil
}

func (b *Book) applyLocked(d pendingDelta) {
	tree := b.bids
	if d.side == types.Sell {
		tree = b.asks
	}
	if d.qty.IsZero() {
		tree.Delete(d.price)
	} else {
		tree.Upsert(d.price, d.qty)
	}
	b.lastSeq = d.seq
	b.updated = time.Now()
}

// drainPendingLocked replays any buffered deltas that are now contiguous
// after applying one in-order delta.
func (b *Book) drainPendingLocked() {
	for {
		progressed := false
		for i, d := range b.pending {
			if d.seq == b.lastSeq+1 {
				b.applyLocked(d)
				b.pending = append(b.pending[:i], b.pending[i+1:]...)
				progressed = true
				break
			}
		}
		if !progressed {
			return
		}
	}
}

// Snapshot returns a sorted, read-only view of the current book: bids
// descending by price, asks ascending. This walks every level (O(n)) —
// callers that only need top-of-book should use BestBidAsk/MidPrice
// instead, which are O(1).
func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := types.OrderBookSnapshot{
		Venue:     b.venue,
		Symbol:    b.symbol,
		Seq:       b.lastSeq,
		UpdatedAt: b.updated,
	}
	snap.Bids = make([]types.PriceLevel, 0, b.bids.Len())
	b.bids.ForEach(func(price, qty money.Decimal) {
		snap.Bids = append(snap.Bids, types.PriceLevel{Price: price, Qty: qty})
	})
	// the tree iterates ascending regardless of side; bids need highest-first.
	for i, j := 0, len(snap.Bids)-1; i < j; i, j = i+1, j-1 {
		snap.Bids[i], snap.Bids[j] = snap.Bids[j], snap.Bids[i]
	}
	snap.Asks = make([]types.PriceLevel, 0, b.asks.Len())
	b.asks.ForEach(func(price, qty money.Decimal) {
		snap.Asks = append(snap.Asks, types.PriceLevel{Price: price, Qty: qty})
	})
	return snap
}

// MidPrice returns the mid price, or false if either side is empty.
// Time complexity: O(1).
func (b *Book) MidPrice() (money.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return money.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(money.NewFromInt(2)), true
}

// BestBidAsk returns the best bid and ask levels via each side's cached
// min/max tree pointer. Time complexity: O(1).
func (b *Book) BestBidAsk() (bid, ask types.PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bp, bq, ok1 := b.bids.Best()
	ap, aq, ok2 := b.asks.Best()
	if !ok1 || !ok2 {
		return types.PriceLevel{}, types.PriceLevel{}, false
	}
	return types.PriceLevel{Price: bp, Qty: bq}, types.PriceLevel{Price: ap, Qty: aq}, true
}

// IsStale reports whether the book hasn't been updated within maxAge, or
// has never received a valid snapshot.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.valid || b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last applied update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// LastSeq returns the last applied sequence number.
func (b *Book) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}
