package market

import (
	"testing"
	"time"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

func TestOnTradeBuildsOHLCV(t *testing.T) {
	t.Parallel()
	a := NewAggregator(nil)
	symbol := types.Intern("BTCUSDT")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.OnTrade(types.Binance, symbol, time.Minute, money.NewFromFloat(100), money.NewFromFloat(1), base)
	a.OnTrade(types.Binance, symbol, time.Minute, money.NewFromFloat(105), money.NewFromFloat(2), base.Add(10*time.Second))
	a.OnTrade(types.Binance, symbol, time.Minute, money.NewFromFloat(95), money.NewFromFloat(1), base.Add(20*time.Second))

	c, ok := a.Current(types.Binance, symbol, time.Minute)
	if !ok {
		t.Fatal("expected an in-progress candle")
	}
	if !c.Open.Equal(money.NewFromFloat(100)) {
		t.Errorf("Open = %v, want 100", c.Open)
	}
	if !c.High.Equal(money.NewFromFloat(105)) {
		t.Errorf("High = %v, want 105", c.High)
	}
	if !c.Low.Equal(money.NewFromFloat(95)) {
		t.Errorf("Low = %v, want 95", c.Low)
	}
	if !c.Close.Equal(money.NewFromFloat(95)) {
		t.Errorf("Close = %v, want 95", c.Close)
	}
	if !c.Volume.Equal(money.NewFromFloat(4)) {
		t.Errorf("Volume = %v, want 4", c.Volume)
	}
	if c.Trades != 3 {
		t.Errorf("Trades = %d, want 3", c.Trades)
	}
}

func TestOnTradeClosesCandleOnBoundaryCross(t *testing.T) {
	t.Parallel()
	var closed []Kline
	a := NewAggregator(func(k Kline) { closed = append(closed, k) })
	symbol := types.Intern("BTCUSDT")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.OnTrade(types.Binance, symbol, time.Minute, money.NewFromFloat(100), money.NewFromFloat(1), base)
	a.OnTrade(types.Binance, symbol, time.Minute, money.NewFromFloat(110), money.NewFromFloat(1), base.Add(90*time.Second))

	if len(closed) != 1 {
		t.Fatalf("closed %d candles, want 1", len(closed))
	}
	if !closed[0].Close.Equal(money.NewFromFloat(100)) {
		t.Errorf("closed candle close = %v, want 100", closed[0].Close)
	}

	c, ok := a.Current(types.Binance, symbol, time.Minute)
	if !ok {
		t.Fatal("expected a new in-progress candle after close")
	}
	if !c.Open.Equal(money.NewFromFloat(110)) {
		t.Errorf("new candle open = %v, want 110", c.Open)
	}
}
