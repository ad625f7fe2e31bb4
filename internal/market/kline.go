package market

import (
	"sync"
	"time"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// Kline is one OHLCV candle for a (venue, symbol, period) bucket.
type Kline struct {
	Venue     types.Venue
	Symbol    types.Symbol
	Period    time.Duration
	OpenTime  time.Time
	CloseTime time.Time
	Open      money.Decimal
	High      money.Decimal
	Low       money.Decimal
	Close     money.Decimal
	Volume    money.Decimal
	Trades    int64
	Closed    bool
}

type klineKey struct {
	venue  types.Venue
	symbol types.Symbol
	period time.Duration
}

// Aggregator builds OHLCV candles from a stream of trades, closing a
// candle when a trade crosses its period boundary (boundary-aligned to
// the epoch, matching how every venue in scope publishes klines).
//
// Grounded on the teacher's FlowTracker rolling-window-with-eviction idiom
// (internal/strategy/flow_tracker.go), generalized from a sliding window
// over a fixed duration to a fixed open-candle-per-key map that closes on
// boundary crossing.
type Aggregator struct {
	mu     sync.Mutex
	open   map[klineKey]*Kline
	onClose func(Kline)
}

// NewAggregator builds an Aggregator. onClose, if non-nil, is invoked
// synchronously whenever a candle closes.
func NewAggregator(onClose func(Kline)) *Aggregator {
	return &Aggregator{open: make(map[klineKey]*Kline), onClose: onClose}
}

// OnTrade feeds one trade into the open candle for (venue, symbol,
// period), closing the previous candle first if the trade falls in a later
// bucket. Only the given period is updated.
func (a *Aggregator) OnTrade(venue types.Venue, symbol types.Symbol, period time.Duration, price, qty money.Decimal, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := klineKey{venue, symbol, period}
	candle, ok := a.open[k]
	bucketStart := ts.Truncate(period)

	if ok && candle.OpenTime.Before(bucketStart) {
		candle.Closed = true
		candle.CloseTime = candle.OpenTime.Add(period)
		if a.onClose != nil {
			a.onClose(*candle)
		}
		ok = false
	}

	if !ok {
		candle = &Kline{
			Venue: venue, Symbol: symbol, Period: period,
			OpenTime: bucketStart, Open: price, High: price, Low: price, Close: price,
		}
		a.open[k] = candle
	}

	candle.Close = price
	candle.High = money.Max(candle.High, price)
	candle.Low = money.Min(candle.Low, price)
	candle.Volume = candle.Volume.Add(qty)
	candle.Trades++
}

// Current returns the in-progress candle for a key, if one exists.
func (a *Aggregator) Current(venue types.Venue, symbol types.Symbol, period time.Duration) (Kline, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.open[klineKey{venue, symbol, period}]
	if !ok {
		return Kline{}, false
	}
	return *c, true
}
