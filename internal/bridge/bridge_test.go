package bridge

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/internal/oms"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/retry"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/internal/strategy"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	venue   types.Venue
	placed  []exchange.PlaceOrderRequest
	reject  bool
	failErr error
}

func (a *fakeAdapter) Venue() types.Venue { return a.venue }

func (a *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error) {
	a.placed = append(a.placed, req)
	if a.failErr != nil {
		return nil, a.failErr
	}
	state := types.StateAccepted
	if a.reject {
		state = types.StateRejected
	}
	return &types.Order{
		ClientOrderID: req.ClientOrderID,
		Venue:         a.venue,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TIF:           req.TIF,
		Price:         req.Price,
		Qty:           req.Qty,
		State:         state,
	}, nil
}

func (a *fakeAdapter) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (a *fakeAdapter) QueryOrder(ctx context.Context, clientOrderID string) (*types.Order, error) {
	return nil, nil
}
func (a *fakeAdapter) FetchBalances(ctx context.Context) ([]exchange.Balance, error) { return nil, nil }
func (a *fakeAdapter) SubscribeMarket(ctx context.Context, symbol types.Symbol) error { return nil }
func (a *fakeAdapter) SubscribeUserStream(ctx context.Context) error                  { return nil }
func (a *fakeAdapter) Close() error                                                   { return nil }

func newTestBridge(t *testing.T, adapter *fakeAdapter, riskCfg config.RiskConfig) (*Bridge, *oms.Manager, *position.Book) {
	t.Helper()
	riskMgr := risk.NewManager(riskCfg, testLogger())
	positions := position.NewBook()
	ids, err := oms.NewClientIDAllocator(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewClientIDAllocator: %v", err)
	}
	orders := oms.NewManager()
	reg := metrics.New()
	router := exchange.NewRouter(retry.Policy{Base: time.Millisecond, Max: time.Millisecond, MaxTries: 1}, reg, testLogger())
	router.Register(adapter.venue, adapter, risk.NewBreaker(5, time.Minute, 1))

	ch := make(chan []strategy.Signal, 1)
	b := New(ch, riskMgr, positions, ids, orders, router, reg, testLogger())
	return b, orders, positions
}

func TestBridgeRoutesAPassingSignal(t *testing.T) {
	adapter := &fakeAdapter{venue: types.Binance}
	b, orders, _ := newTestBridge(t, adapter, config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 10},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	})

	sig := strategy.Signal{Venue: types.Binance, Symbol: types.Intern("BTCUSDT"), Side: types.Buy, Price: money.NewFromFloat(100), Qty: money.NewFromFloat(0.1)}
	b.handle(context.Background(), sig)

	if len(adapter.placed) != 1 {
		t.Fatalf("expected the order to reach the adapter, got %d calls", len(adapter.placed))
	}
	order := orders.Get(adapter.placed[0].ClientOrderID)
	if order == nil {
		t.Fatal("expected the order to be tracked in the OMS")
	}
	if order.State != types.StateAccepted {
		t.Errorf("expected order state Accepted, got %s", order.State)
	}
}

func TestBridgeRejectsSignalOverPositionLimit(t *testing.T) {
	adapter := &fakeAdapter{venue: types.Binance}
	b, _, _ := newTestBridge(t, adapter, config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 1},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	})

	sig := strategy.Signal{Venue: types.Binance, Symbol: types.Intern("BTCUSDT"), Side: types.Buy, Price: money.NewFromFloat(100), Qty: money.NewFromFloat(5)}
	b.handle(context.Background(), sig)

	if len(adapter.placed) != 0 {
		t.Errorf("expected the oversized signal to be rejected before reaching the adapter, got %d calls", len(adapter.placed))
	}
}

func TestBridgeMarksOrderRejectedOnAdapterFailure(t *testing.T) {
	adapter := &fakeAdapter{venue: types.Binance, failErr: &exchange.AdapterError{Kind: exchange.AdapterErrRejected, Venue: types.Binance, Message: "insufficient balance"}}
	b, orders, _ := newTestBridge(t, adapter, config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 10},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	})

	sig := strategy.Signal{Venue: types.Binance, Symbol: types.Intern("BTCUSDT"), Side: types.Buy, Price: money.NewFromFloat(100), Qty: money.NewFromFloat(0.1)}
	b.handle(context.Background(), sig)

	if len(adapter.placed) != 1 {
		t.Fatalf("expected one placement attempt, got %d", len(adapter.placed))
	}
	order := orders.Get(adapter.placed[0].ClientOrderID)
	if order == nil || order.State != types.StateRejected {
		t.Fatalf("expected order marked Rejected after adapter failure, got %+v", order)
	}
}

func TestBridgeOnFillUpdatesOMSAndPositionBook(t *testing.T) {
	adapter := &fakeAdapter{venue: types.Binance}
	b, orders, positions := newTestBridge(t, adapter, config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 10},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	})

	sig := strategy.Signal{Venue: types.Binance, Symbol: types.Intern("BTCUSDT"), Side: types.Buy, Price: money.NewFromFloat(100), Qty: money.NewFromFloat(0.1)}
	b.handle(context.Background(), sig)
	clientOrderID := adapter.placed[0].ClientOrderID

	b.OnFill(types.Fill{
		ClientOrderID: clientOrderID,
		Venue:         types.Binance,
		Symbol:        types.Intern("BTCUSDT"),
		Side:          types.Buy,
		Price:         money.NewFromFloat(100),
		Qty:           money.NewFromFloat(0.1),
		Timestamp:     time.Now(),
	})

	order := orders.Get(clientOrderID)
	if order == nil || order.State != types.StateFilled {
		t.Fatalf("expected order Filled after a fully-sized fill, got %+v", order)
	}
	pos, ok := positions.Snapshot(types.Binance, types.Intern("BTCUSDT"))
	if !ok || !pos.Qty.Equal(money.NewFromFloat(0.1)) {
		t.Fatalf("expected position qty 0.1 after fill, got %+v ok=%v", pos, ok)
	}
}
