package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestOrdersSubmittedIncrementsAndExports(t *testing.T) {
	t.Parallel()
	r := New()
	r.OrdersSubmitted.WithLabelValues("binance", "BTCUSDT").Inc()

	srv := httptest.NewServer(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	buf := new(strings.Builder)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(buf.String(), "engine_orders_submitted_total") {
		t.Error("exported text missing engine_orders_submitted_total")
	}
}

func TestNewRegistersDistinctCollectorsWithoutPanic(t *testing.T) {
	t.Parallel()
	// New() calls MustRegister which panics on duplicate registration; two
	// independent registries must not collide.
	_ = New()
	_ = New()
}
