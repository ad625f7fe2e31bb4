package store

import (
	"testing"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := types.Position{
		Venue:         types.Binance,
		Symbol:        types.Intern("BTCUSDT"),
		Qty:           money.NewFromFloat(10.5),
		AvgEntryPrice: money.NewFromFloat(50000),
		RealizedPnL:   money.NewFromFloat(1.23),
	}

	if err := s.Save(pos); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(types.Binance, types.Intern("BTCUSDT"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil")
	}
	if !loaded.Qty.Equal(pos.Qty) {
		t.Errorf("Qty = %v, want %v", loaded.Qty, pos.Qty)
	}
	if !loaded.AvgEntryPrice.Equal(pos.AvgEntryPrice) {
		t.Errorf("AvgEntryPrice = %v, want %v", loaded.AvgEntryPrice, pos.AvgEntryPrice)
	}
	if !loaded.RealizedPnL.Equal(pos.RealizedPnL) {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.Load(types.Binance, types.Intern("NOSUCH"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	symbol := types.Intern("BTCUSDT")
	_ = s.Save(types.Position{Venue: types.Binance, Symbol: symbol, Qty: money.NewFromFloat(10)})
	_ = s.Save(types.Position{Venue: types.Binance, Symbol: symbol, Qty: money.NewFromFloat(20)})

	loaded, err := s.Load(types.Binance, symbol)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Qty.Equal(money.NewFromFloat(20)) {
		t.Errorf("Qty = %v, want 20 (latest save)", loaded.Qty)
	}
}

func TestLoadAllReturnsEveryPersistedPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.Save(types.Position{Venue: types.Binance, Symbol: types.Intern("BTCUSDT"), Qty: money.NewFromFloat(1)})
	_ = s.Save(types.Position{Venue: types.OKX, Symbol: types.Intern("ETHUSDT"), Qty: money.NewFromFloat(2)})

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(all))
	}
}

func TestLoadAllOnEmptyStoreReturnsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no positions, got %d", len(all))
	}
}
