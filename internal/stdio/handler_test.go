package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/internal/oms"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/retry"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

func handlerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAdapter struct {
	venue   types.Venue
	reject  bool
	failErr error
}

func (a *stubAdapter) Venue() types.Venue { return a.venue }

func (a *stubAdapter) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*types.Order, error) {
	if a.failErr != nil {
		return nil, a.failErr
	}
	state := types.StateAccepted
	if a.reject {
		state = types.StateRejected
	}
	return &types.Order{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  "V1",
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

func (a *stubAdapter) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (a *stubAdapter) QueryOrder(ctx context.Context, clientOrderID string) (*types.Order, error) {
	return nil, nil
}
func (a *stubAdapter) FetchBalances(ctx context.Context) ([]exchange.Balance, error) { return nil, nil }
func (a *stubAdapter) SubscribeMarket(ctx context.Context, symbol types.Symbol) error { return nil }
func (a *stubAdapter) SubscribeUserStream(ctx context.Context) error                  { return nil }
func (a *stubAdapter) Close() error                                                   { return nil }

func newTestHandler(t *testing.T, adapter *stubAdapter, riskCfg config.RiskConfig) (*Handler, *oms.Manager, *position.Book, *bytes.Buffer) {
	t.Helper()
	riskMgr := risk.NewManager(riskCfg, handlerTestLogger())
	positions := position.NewBook()
	orders := oms.NewManager()
	reg := metrics.New()
	router := exchange.NewRouter(retry.Policy{Base: time.Millisecond, Max: time.Millisecond, MaxTries: 1}, reg, handlerTestLogger())
	router.Register(adapter.venue, adapter, risk.NewBreaker(5, time.Minute, 1))

	var buf bytes.Buffer
	emitter := NewEmitter(&buf, 16, reg, handlerTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go emitter.Run(ctx)

	h := NewHandler(adapter.venue, riskMgr, positions, orders, router, emitter, handlerTestLogger())
	return h, orders, positions, &buf
}

func eventTypes(t *testing.T, buf *bytes.Buffer, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		if buf.Len() > 0 && len(lines) >= n {
			types := make([]string, 0, len(lines))
			for _, line := range lines {
				if line == "" {
					continue
				}
				var m map[string]interface{}
				if err := json.Unmarshal([]byte(line), &m); err != nil {
					t.Fatalf("invalid NDJSON line %q: %v", line, err)
				}
				types = append(types, m["type"].(string))
			}
			if len(types) >= n {
				return types
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, got %q", n, buf.String())
		}
		time.Sleep(time.Millisecond)
	}
}

func baseRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 10},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	}
}

func TestHandlerOrderHappyPathEmitsReceivedThenTwoUpdates(t *testing.T) {
	h, _, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("ORDER BUY BTCUSDT 0.1 100 c1\n"))

	got := eventTypes(t, buf, 3, time.Second)
	want := []string{"order_received", "order_update", "order_update"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("event %d: expected %s, got %s (all: %v)", i, w, got[i], got)
		}
	}
}

func TestHandlerOrderRiskRejectedEmitsErrorOnly(t *testing.T) {
	h, orders, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, config.RiskConfig{
		MaxPositionSize: map[string]float64{"BTCUSDT": 1},
		MaxNotional:     1_000_000,
		RatePerSymbol:   100,
	})

	h.Run(context.Background(), strings.NewReader("ORDER BUY BTCUSDT 5 100 c1\n"))

	got := eventTypes(t, buf, 1, time.Second)
	if got[0] != "error" {
		t.Fatalf("expected error event, got %v", got)
	}
	if orders.Get("c1") != nil {
		t.Error("expected rejected order to never be tracked in the OMS")
	}
}

func TestHandlerOrderIdCollisionRejected(t *testing.T) {
	h, _, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("ORDER BUY BTCUSDT 0.1 100 c1\nORDER BUY BTCUSDT 0.1 100 c1\n"))

	got := eventTypes(t, buf, 4, time.Second)
	if got[len(got)-1] != "error" {
		t.Fatalf("expected last event to be an error for the duplicate id, got %v", got)
	}
}

func TestHandlerQueryUnknownOrderEmitsError(t *testing.T) {
	h, _, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("QUERY nosuchid\n"))

	got := eventTypes(t, buf, 1, time.Second)
	if got[0] != "error" {
		t.Fatalf("expected error event, got %v", got)
	}
}

func TestHandlerQueryKnownOrderEmitsOrderState(t *testing.T) {
	h, _, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("ORDER BUY BTCUSDT 0.1 100 c1\nQUERY c1\n"))

	got := eventTypes(t, buf, 4, time.Second)
	if got[len(got)-1] != "order_state" {
		t.Fatalf("expected order_state as the last event, got %v", got)
	}
}

func TestHandlerCancelUnknownOrderEmitsError(t *testing.T) {
	h, _, _, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("CANCEL nosuchid\n"))

	got := eventTypes(t, buf, 1, time.Second)
	if got[0] != "error" {
		t.Fatalf("expected error event, got %v", got)
	}
}

func TestHandlerOnFillIsPresentationalOnly(t *testing.T) {
	h, orders, positions, buf := newTestHandler(t, &stubAdapter{venue: types.Binance}, baseRiskConfig())

	h.Run(context.Background(), strings.NewReader("ORDER BUY BTCUSDT 0.1 100 c1\n"))
	eventTypes(t, buf, 3, time.Second)

	// Simulate the canonical fill-application path (internal/bridge.Bridge)
	// having already advanced the order and position book before Handler
	// ever sees the fill.
	if _, err := orders.ApplyFill("c1", money.NewFromFloat(100), money.NewFromFloat(0.1)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	positions.OnFill(types.Binance, types.Intern("BTCUSDT"), types.Buy, money.NewFromFloat(100), money.NewFromFloat(0.1))

	h.OnFill(types.Fill{
		ClientOrderID: "c1",
		Venue:         types.Binance,
		Symbol:        types.Intern("BTCUSDT"),
		Side:          types.Buy,
		Price:         money.NewFromFloat(100),
		Qty:           money.NewFromFloat(0.1),
		Timestamp:     time.Now(),
	})

	got := eventTypes(t, buf, 5, time.Second)
	if got[3] != "fill" || got[4] != "order_update" {
		t.Fatalf("expected fill then order_update, got %v", got)
	}

	order := orders.Get("c1")
	if order.State != types.StateFilled {
		t.Errorf("expected order already Filled by the shared apply path, got %s", order.State)
	}
}
