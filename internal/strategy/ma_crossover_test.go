package strategy

import (
	"testing"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/pkg/types"
)

func newTestMACrossover(t *testing.T) *MACrossover {
	t.Helper()
	decl := config.StrategyDecl{
		Name: "mac-btc", Template: "ma_crossover", Venue: "binance", Symbol: "BTCUSDT",
		Params: map[string]interface{}{"fast_window": float64(2), "slow_window": float64(4), "lookback": "1h"},
	}
	strat, err := newMACrossover(decl, testLogger())
	if err != nil {
		t.Fatalf("newMACrossover: %v", err)
	}
	return strat.(*MACrossover)
}

func TestMACrossoverFiresOnlyOnTheCrossingTick(t *testing.T) {
	mc := newTestMACrossover(t)
	now := time.Now()

	// Feed a falling-then-rising series so fast eventually crosses above slow.
	prices := []float64{100, 99, 98, 97, 98, 99, 100, 101, 102, 103}
	var lastSignals []Signal
	fired := 0
	for i, p := range prices {
		at := now.Add(time.Duration(i) * time.Second)
		signals := mc.OnTick(MarketState{Book: testBook(p-0.5, p+0.5), Now: at})
		if len(signals) > 0 {
			fired++
			lastSignals = signals
		}
	}

	if fired == 0 {
		t.Fatal("expected at least one crossover signal across a reversing series")
	}
	if len(lastSignals) != 1 {
		t.Errorf("expected exactly one signal per crossing tick, got %d", len(lastSignals))
	}
}

func TestMACrossoverSilentWithoutEnoughHistory(t *testing.T) {
	mc := newTestMACrossover(t)
	signals := mc.OnTick(MarketState{Book: testBook(99, 101), Now: time.Now()})
	if signals != nil {
		t.Errorf("expected no signal on the very first tick, got %v", signals)
	}
}

func TestMACrossoverOnFillIsNoop(t *testing.T) {
	mc := newTestMACrossover(t)
	mc.OnFill(types.Fill{}) // must not panic
}
