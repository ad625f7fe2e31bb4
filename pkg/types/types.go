// Package types defines shared data structures used across all packages.
//
// This is the common vocabulary for the engine — venues, symbols, orders,
// fills, positions and order-book snapshots. It has no dependency on
// internal packages so it can be imported by any layer.
package types

import (
	"sync"
	"time"

	"github.com/tradecore/engine/pkg/money"
)

// Venue identifies the exchange an order, book or stream belongs to.
type Venue string

const (
	Binance  Venue = "binance"
	OKX      Venue = "okx"
	Bybit    Venue = "bybit"
	Coinbase Venue = "coinbase"
)

// Symbol is an interned instrument identifier ("BTCUSDT", "ETH-PERP", ...).
// Interning keeps comparisons on the hot path to an int compare instead of
// a string compare once a symbol has been seen once.
type Symbol struct {
	id int32
}

var symbolTable = struct {
	mu     sync.RWMutex
	byName map[string]int32
	byID   []string
}{byName: make(map[string]int32)}

// Intern returns the Symbol handle for name, allocating a new slot the
// first time name is seen.
func Intern(name string) Symbol {
	symbolTable.mu.RLock()
	id, ok := symbolTable.byName[name]
	symbolTable.mu.RUnlock()
	if ok {
		return Symbol{id: id}
	}

	symbolTable.mu.Lock()
	defer symbolTable.mu.Unlock()
	if id, ok := symbolTable.byName[name]; ok {
		return Symbol{id: id}
	}
	id = int32(len(symbolTable.byID))
	symbolTable.byID = append(symbolTable.byID, name)
	symbolTable.byName[name] = id
	return Symbol{id: id}
}

// String returns the interned symbol's textual name.
func (s Symbol) String() string {
	symbolTable.mu.RLock()
	defer symbolTable.mu.RUnlock()
	if int(s.id) >= len(symbolTable.byID) {
		return ""
	}
	return symbolTable.byID[s.id]
}

// MarshalJSON renders the symbol as its textual name.
func (s Symbol) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON interns the textual name found in the JSON string.
func (s *Symbol) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 {
		b = b[1 : len(b)-1]
	}
	*s = Intern(string(b))
	return nil
}

// Side is the buy/sell direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Sign returns +1 for Buy and -1 for Sell, used by position math.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType mirrors the order-type set the engine accepts from strategies.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce controls order lifetime semantics at the venue.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

// OrderState is the order-state-machine state (see internal/oms).
type OrderState string

const (
	StateNew             OrderState = "New"
	StateSubmitted       OrderState = "Submitted"
	StateAccepted        OrderState = "Accepted"
	StatePartiallyFilled OrderState = "PartiallyFilled"
	StateFilled          OrderState = "Filled"
	StateCancelRequested OrderState = "CancelRequested"
	StateCancelled       OrderState = "Cancelled"
	StateRejected        OrderState = "Rejected"
	StateExpired         OrderState = "Expired"
)

// Terminal reports whether no further transition is possible from s.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// Order is the engine's canonical order record, tracked end-to-end from
// strategy signal until it reaches a terminal state.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	Venue         Venue
	Symbol        Symbol
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	Price         money.Decimal
	Qty           money.Decimal
	CumQty        money.Decimal
	AvgFillPrice  money.Decimal
	State         OrderState
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RejectReason  string
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() money.Decimal {
	return o.Qty.Sub(o.CumQty)
}

// Fill is one execution against an order.
type Fill struct {
	ClientOrderID string
	VenueOrderID  string
	Venue         Venue
	Symbol        Symbol
	Side          Side
	Price         money.Decimal
	Qty           money.Decimal
	Fee           money.Decimal
	FeeKnown      bool
	ExecID        string
	Timestamp     time.Time
}

// PriceLevel is one rung of an order book ladder.
type PriceLevel struct {
	Price money.Decimal
	Qty   money.Decimal
}

// OrderBookSnapshot is a full top-of-book-plus-depth view of one symbol at
// one venue, as returned by market.Book.Snapshot.
type OrderBookSnapshot struct {
	Venue     Venue
	Symbol    Symbol
	Seq       uint64
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// BestBid returns the highest bid level, or the zero value and false if the
// book has no bids.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask level, or the zero value and false if the
// book has no asks.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2, or the zero value and false if
// either side is empty.
func (s OrderBookSnapshot) MidPrice() (money.Decimal, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return money.Decimal{}, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return money.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(money.NewFromInt(2)), true
}

// MarketEventKind tags the payload carried by a MarketEvent.
type MarketEventKind string

const (
	EventBookDelta MarketEventKind = "book_delta"
	EventBookSnap  MarketEventKind = "book_snapshot"
	EventTrade     MarketEventKind = "trade"
)

// MarketEvent is the dispatcher-level envelope for every market-data update
// flowing out of a WebSocket stream.
type MarketEvent struct {
	Venue     Venue
	Symbol    Symbol
	Kind      MarketEventKind
	Seq       uint64
	Payload   interface{}
	Timestamp time.Time
}

// Position is the signed per-symbol holding tracked by the position book:
// positive Qty is long, negative is short.
type Position struct {
	Venue         Venue
	Symbol        Symbol
	Qty           money.Decimal
	AvgEntryPrice money.Decimal
	RealizedPnL   money.Decimal
	UnrealizedPnL money.Decimal
	UpdatedAt     time.Time
}
