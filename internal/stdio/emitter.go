package stdio

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/tradecore/engine/internal/exchange"
	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/pkg/types"
)

// Event is one NDJSON object. A plain map keeps every event type's fields
// immutable and independently extensible per spec.md §6's "new event
// types may be added; existing field names are immutable" rule, rather
// than forcing every event through one fixed struct shape.
type Event map[string]interface{}

const (
	codeParse = "parse"
)

// Emitter serializes Events to out as newline-delimited JSON, one per
// line. Two internal channels give low-priority event types (market,
// book_top) their own bounded buffer so a burst of ticker updates can
// never starve order lifecycle events out of the high-priority channel;
// Run always drains the high channel first. Grounded on the teacher's
// non-blocking-send-and-drop idiom used throughout engine.go/maker.go for
// a dashboard that can't keep up.
type Emitter struct {
	highCh  chan Event
	lowCh   chan Event
	out     io.Writer
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewEmitter builds an Emitter writing to out. bufSize bounds both the
// high- and low-priority channels.
func NewEmitter(out io.Writer, bufSize int, reg *metrics.Registry, logger *slog.Logger) *Emitter {
	return &Emitter{
		highCh:  make(chan Event, bufSize),
		lowCh:   make(chan Event, bufSize),
		out:     out,
		metrics: reg,
		logger:  logger.With("component", "stdio_emitter"),
	}
}

// Run drains both channels to out until ctx is cancelled, preferring the
// high-priority channel whenever it has a pending event.
func (e *Emitter) Run(ctx context.Context) {
	enc := json.NewEncoder(e.out)
	for {
		select {
		case <-ctx.Done():
			e.drain(enc)
			return
		case ev := <-e.highCh:
			e.write(enc, ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			e.drain(enc)
			return
		case ev := <-e.highCh:
			e.write(enc, ev)
		case ev := <-e.lowCh:
			e.write(enc, ev)
		}
	}
}

// drain flushes whatever is already queued in highCh once the context is
// cancelled, so a final EngineStopped() queued right before shutdown still
// reaches stdout instead of being silently discarded. lowCh is intentionally
// not drained here — low-priority events are allowed to be lost on
// shutdown the same way they are under backpressure.
func (e *Emitter) drain(enc *json.Encoder) {
	for {
		select {
		case ev := <-e.highCh:
			e.write(enc, ev)
		default:
			return
		}
	}
}

func (e *Emitter) write(enc *json.Encoder, ev Event) {
	if err := enc.Encode(ev); err != nil {
		e.logger.Error("failed to encode event", "type", ev["type"], "error", err)
	}
}

func (e *Emitter) emitHigh(ev Event) {
	select {
	case e.highCh <- ev:
	default:
		e.logger.Error("stdio high-priority channel full, dropping event", "type", ev["type"])
		e.countDrop("stdio_high")
	}
}

func (e *Emitter) emitLow(ev Event) {
	select {
	case e.lowCh <- ev:
	default:
		e.countDrop("stdio_low")
	}
}

func (e *Emitter) countDrop(stream string) {
	if e.metrics != nil {
		e.metrics.EventsDroppedTotal.WithLabelValues(stream).Inc()
	}
}

func baseEvent(typ string) Event {
	now := time.Now()
	return Event{
		"type":   typ,
		"ts_ns":  now.UnixNano(),
		"ts_iso": now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// EngineStarted emits the engine_started event once wiring completes.
func (e *Emitter) EngineStarted() { e.emitHigh(baseEvent("engine_started")) }

// EngineStopped emits the engine_stopped event during shutdown.
func (e *Emitter) EngineStopped() { e.emitHigh(baseEvent("engine_stopped")) }

// Market emits a low-priority raw market-data passthrough event.
func (e *Emitter) Market(event types.MarketEvent) {
	ev := baseEvent("market")
	ev["venue"] = string(event.Venue)
	ev["symbol"] = event.Symbol.String()
	ev["kind"] = string(event.Kind)
	ev["seq"] = event.Seq
	e.emitLow(ev)
}

// BookTop emits a low-priority best-bid/ask snapshot.
func (e *Emitter) BookTop(venue types.Venue, symbol types.Symbol, snap types.OrderBookSnapshot) {
	ev := baseEvent("book_top")
	ev["venue"] = string(venue)
	ev["symbol"] = symbol.String()
	if bid, ok := snap.BestBid(); ok {
		ev["bid"] = bid.String()
	}
	if ask, ok := snap.BestAsk(); ok {
		ev["ask"] = ask.String()
	}
	e.emitLow(ev)
}

// OrderReceived emits the order_received acknowledgment for a just
// accepted stdin ORDER command, before any risk/router outcome is known.
func (e *Emitter) OrderReceived(clientOrderID string) {
	ev := baseEvent("order_received")
	ev["client_order_id"] = clientOrderID
	e.emitHigh(ev)
}

// OrderUpdate emits the order's current lifecycle state.
func (e *Emitter) OrderUpdate(order *types.Order) {
	ev := baseEvent("order_update")
	ev["client_order_id"] = order.ClientOrderID
	ev["state"] = string(order.State)
	if order.VenueOrderID != "" {
		ev["venue_order_id"] = order.VenueOrderID
	}
	if !order.CumQty.IsZero() {
		ev["exec_qty"] = order.CumQty.String()
	}
	if !order.AvgFillPrice.IsZero() {
		ev["avg_price"] = order.AvgFillPrice.String()
	}
	e.emitHigh(ev)
}

// Fill emits one execution report.
func (e *Emitter) Fill(fill types.Fill) {
	ev := baseEvent("fill")
	ev["client_order_id"] = fill.ClientOrderID
	ev["venue"] = string(fill.Venue)
	ev["symbol"] = fill.Symbol.String()
	ev["qty"] = fill.Qty.String()
	ev["price"] = fill.Price.String()
	e.emitHigh(ev)
}

// OrderState emits the full order record in reply to a QUERY command —
// the resolution of spec.md §9's open question about QUERY's reply shape.
func (e *Emitter) OrderState(order *types.Order) {
	ev := baseEvent("order_state")
	ev["client_order_id"] = order.ClientOrderID
	ev["venue_order_id"] = order.VenueOrderID
	ev["venue"] = string(order.Venue)
	ev["symbol"] = order.Symbol.String()
	ev["side"] = string(order.Side)
	ev["order_type"] = string(order.Type)
	ev["tif"] = string(order.TIF)
	ev["price"] = order.Price.String()
	ev["qty"] = order.Qty.String()
	ev["state"] = string(order.State)
	ev["exec_qty"] = order.CumQty.String()
	ev["avg_price"] = order.AvgFillPrice.String()
	e.emitHigh(ev)
}

// Account emits a per-asset balance snapshot.
func (e *Emitter) Account(venue types.Venue, balance exchange.Balance) {
	ev := baseEvent("account")
	ev["venue"] = string(venue)
	ev["asset"] = balance.Asset
	ev["available"] = balance.Available.String()
	ev["locked"] = balance.Locked.String()
	e.emitHigh(ev)
}

// Error emits a typed error event. extra carries fields beyond code/reason
// (rule, observed, limit, client_order_id, ...); it may be nil.
func (e *Emitter) Error(code, reason string, extra map[string]interface{}) {
	ev := baseEvent("error")
	ev["code"] = code
	ev["reason"] = reason
	for k, v := range extra {
		ev[k] = v
	}
	e.emitHigh(ev)
}
