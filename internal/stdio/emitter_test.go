package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tradecore/engine/internal/metrics"
)

func emitterTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drainLines(t *testing.T, buf *bytes.Buffer, n int, timeout time.Duration) []map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lines []map[string]interface{}
	for len(lines) < n && time.Now().Before(deadline) {
		scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
		lines = nil
		for scanner.Scan() {
			var m map[string]interface{}
			if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
				t.Fatalf("invalid NDJSON line %q: %v", scanner.Text(), err)
			}
			lines = append(lines, m)
		}
		if len(lines) < n {
			time.Sleep(time.Millisecond)
		}
	}
	return lines
}

func TestEmitterWritesValidNDJSON(t *testing.T) {
	var buf bytes.Buffer
	reg := metrics.New()
	e := NewEmitter(&buf, 8, reg, emitterTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.EngineStarted()
	lines := drainLines(t, &buf, 1, time.Second)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["type"] != "engine_started" {
		t.Errorf("expected type engine_started, got %v", lines[0]["type"])
	}
}

func TestEmitterPrefersHighPriorityChannel(t *testing.T) {
	var buf bytes.Buffer
	reg := metrics.New()
	e := NewEmitter(&buf, 8, reg, emitterTestLogger())

	// Fill the low channel before starting Run so both channels have
	// pending events when the loop first wakes up.
	e.emitLow(baseEvent("market"))
	e.emitHigh(baseEvent("order_received"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	lines := drainLines(t, &buf, 2, time.Second)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["type"] != "order_received" {
		t.Errorf("expected high-priority event first, got %v", lines[0]["type"])
	}
}

func TestEmitterDropsAndCountsWhenChannelFull(t *testing.T) {
	var buf bytes.Buffer
	reg := metrics.New()
	e := NewEmitter(&buf, 1, reg, emitterTestLogger())

	// Don't start Run: fill the low channel to capacity, then overflow it.
	e.emitLow(baseEvent("market"))
	e.emitLow(baseEvent("market"))

	if got := testutil.ToFloat64(reg.EventsDroppedTotal.WithLabelValues("stdio_low")); got != 1 {
		t.Errorf("expected 1 dropped low-priority event recorded, got %v", got)
	}
}
