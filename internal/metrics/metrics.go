// Package metrics wires the engine's counters, gauges and histograms into
// a Prometheus registry and exposes them over a text-export HTTP endpoint.
//
// Grounded on the prometheus/client_golang wiring pattern used elsewhere
// in the retrieval pack (the go-coffee services register a handful of
// named collectors at startup and serve them on /metrics); this module
// follows the same shape, scoped to the components this engine actually
// has.
package metrics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every collector the engine exports.
type Registry struct {
	reg *prometheus.Registry

	OrdersSubmitted   *prometheus.CounterVec // labels: venue, symbol
	OrdersRejected    *prometheus.CounterVec // labels: venue, symbol, reason
	FillsTotal        *prometheus.CounterVec // labels: venue, symbol
	RouterLatency     *prometheus.HistogramVec // labels: venue
	WALAppendTotal    prometheus.Counter
	QueueDepth        *prometheus.GaugeVec // labels: priority
	BreakerState      *prometheus.GaugeVec // labels: venue — 0=closed,1=open,2=half_open
	EventsDroppedTotal *prometheus.CounterVec // labels: stream
}

// New constructs a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_submitted_total",
			Help: "Orders submitted to the router, by venue and symbol.",
		}, []string{"venue", "symbol"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected by risk checks or by the venue adapter, by venue, symbol and reason.",
		}, []string{"venue", "symbol", "reason"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fills_total",
			Help: "Fills received, by venue and symbol.",
		}, []string{"venue", "symbol"}),
		RouterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_router_latency_seconds",
			Help:    "Adapter call round-trip latency, by venue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"venue"}),
		WALAppendTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_wal_append_total",
			Help: "Records appended to the write-ahead log.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_dispatch_queue_depth",
			Help: "Approximate depth of each dispatcher priority queue.",
		}, []string{"priority"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_circuit_breaker_state",
			Help: "Circuit breaker state per venue (0=closed,1=open,2=half_open).",
		}, []string{"venue"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_events_dropped_total",
			Help: "Events dropped due to full channels, by stream.",
		}, []string{"stream"}),
	}

	reg.MustRegister(
		r.OrdersSubmitted, r.OrdersRejected, r.FillsTotal, r.RouterLatency,
		r.WALAppendTotal, r.QueueDepth, r.BreakerState, r.EventsDroppedTotal,
	)
	return r
}

// Server exposes the registry over /metrics.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the text-export listener. This is the only surface
// kept from the teacher's dashboard HTTP package — a plain metrics
// endpoint, not a gateway.
func NewServer(addr string, reg *Registry, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &Server{http: &http.Server{Addr: addr, Handler: mux}, logger: logger}
}

// Start runs the listener; returns http.ErrServerClosed on graceful Stop.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
