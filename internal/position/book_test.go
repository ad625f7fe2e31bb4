package position

import (
	"testing"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

func TestOnFillOpensLongPosition(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	p := b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(2))
	if !p.Qty.Equal(money.NewFromFloat(2)) {
		t.Errorf("Qty = %v, want 2", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(money.NewFromFloat(100)) {
		t.Errorf("AvgEntryPrice = %v, want 100", p.AvgEntryPrice)
	}
}

func TestOnFillAveragesEntryPriceOnAdd(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(1))
	p := b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(110), money.NewFromFloat(1))

	if !p.Qty.Equal(money.NewFromFloat(2)) {
		t.Fatalf("Qty = %v, want 2", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(money.NewFromFloat(105)) {
		t.Errorf("AvgEntryPrice = %v, want 105", p.AvgEntryPrice)
	}
}

func TestOnFillReducesAndRealizesPnL(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(2))
	p := b.OnFill(types.Binance, symbol, types.Sell, money.NewFromFloat(110), money.NewFromFloat(1))

	if !p.Qty.Equal(money.NewFromFloat(1)) {
		t.Fatalf("Qty = %v, want 1", p.Qty)
	}
	if !p.RealizedPnL.Equal(money.NewFromFloat(10)) {
		t.Errorf("RealizedPnL = %v, want 10", p.RealizedPnL)
	}
}

func TestOnFillFlipsSideWhenFillExceedsPosition(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(1))
	p := b.OnFill(types.Binance, symbol, types.Sell, money.NewFromFloat(90), money.NewFromFloat(3))

	if !p.Qty.Equal(money.NewFromFloat(-2)) {
		t.Fatalf("Qty = %v, want -2", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(money.NewFromFloat(90)) {
		t.Errorf("AvgEntryPrice = %v, want 90 (fresh short entry)", p.AvgEntryPrice)
	}
	if !p.RealizedPnL.Equal(money.NewFromFloat(-10)) {
		t.Errorf("RealizedPnL = %v, want -10", p.RealizedPnL)
	}
}

func TestOnFillClosingToZeroResetsAvgEntry(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(1))
	p := b.OnFill(types.Binance, symbol, types.Sell, money.NewFromFloat(100), money.NewFromFloat(1))

	if !p.Qty.IsZero() {
		t.Fatalf("Qty = %v, want 0", p.Qty)
	}
	if !p.AvgEntryPrice.IsZero() {
		t.Errorf("AvgEntryPrice = %v, want 0", p.AvgEntryPrice)
	}
}

func TestUpdateMarkToMarketComputesUnrealizedPnL(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")

	b.OnFill(types.Binance, symbol, types.Buy, money.NewFromFloat(100), money.NewFromFloat(2))
	b.UpdateMarkToMarket(types.Binance, symbol, money.NewFromFloat(105))

	p, ok := b.Snapshot(types.Binance, symbol)
	if !ok {
		t.Fatal("expected a tracked position")
	}
	if !p.UnrealizedPnL.Equal(money.NewFromFloat(10)) {
		t.Errorf("UnrealizedPnL = %v, want 10", p.UnrealizedPnL)
	}
}

func TestSnapshotMissingPositionReturnsFalse(t *testing.T) {
	t.Parallel()
	b := NewBook()
	_, ok := b.Snapshot(types.Binance, types.Intern("ETHUSDT"))
	if ok {
		t.Error("expected Snapshot to report false for unknown position")
	}
}

func TestRestoreInstallsPersistedPosition(t *testing.T) {
	t.Parallel()
	b := NewBook()
	symbol := types.Intern("BTCUSDT")
	b.Restore(types.Position{Venue: types.Binance, Symbol: symbol, Qty: money.NewFromFloat(5)})

	p, ok := b.Snapshot(types.Binance, symbol)
	if !ok || !p.Qty.Equal(money.NewFromFloat(5)) {
		t.Fatalf("Snapshot after Restore = %+v, %v", p, ok)
	}
}
