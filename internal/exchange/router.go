package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/engine/internal/metrics"
	"github.com/tradecore/engine/internal/retry"
	"github.com/tradecore/engine/internal/risk"
	"github.com/tradecore/engine/pkg/types"
)

// Router sits in front of every venue's Adapter, adding: per-venue
// retry with backoff, a per-venue circuit breaker gate, round-trip
// latency metrics, and a de-dup guard keyed by client order ID that
// rejects a PlaceOrder whose ID was already placed successfully. The
// guard is recorded only after success: it does not cover the retries
// inside one PlaceOrder call (a timed-out attempt the venue accepted may
// be resubmitted), nor concurrent calls with the same ID.
//
// Grounded on the teacher's exchange.Client request shape (rate-limit
// wait, then call, internal/exchange/client.go), generalized from one
// hard-coded venue to a routing layer over an arbitrary set of Adapters,
// composed with C6's retry.Policy and C20's risk.Breaker.
type Router struct {
	mu       sync.Mutex
	adapters map[types.Venue]Adapter
	breakers map[types.Venue]*risk.Breaker
	sent     map[string]bool // client order IDs already successfully placed

	policy  retry.Policy
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewRouter builds an empty Router. Adapters are registered with
// Register before use.
func NewRouter(policy retry.Policy, reg *metrics.Registry, logger *slog.Logger) *Router {
	return &Router{
		adapters: make(map[types.Venue]Adapter),
		breakers: make(map[types.Venue]*risk.Breaker),
		sent:     make(map[string]bool),
		policy:   policy,
		metrics:  reg,
		logger:   logger.With("component", "router"),
	}
}

// Register attaches an adapter and its circuit breaker for a venue.
func (r *Router) Register(venue types.Venue, adapter Adapter, breaker *risk.Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[venue] = adapter
	r.breakers[venue] = breaker
}

// PlaceOrder routes a new order to its venue's adapter, retrying
// transient failures per the router's policy and refusing to submit at
// all while the venue's breaker is open.
func (r *Router) PlaceOrder(ctx context.Context, venue types.Venue, req PlaceOrderRequest) (*types.Order, error) {
	r.mu.Lock()
	if r.sent[req.ClientOrderID] {
		r.mu.Unlock()
		return nil, fmt.Errorf("router: client order id %s already submitted", req.ClientOrderID)
	}
	adapter, breaker, err := r.lookupLocked(venue)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if !breaker.Allow() {
		return nil, &AdapterError{Kind: AdapterErrTransient, Venue: venue, Message: "circuit breaker open"}
	}

	var order *types.Order
	start := time.Now()
	retryErr := retry.Do(ctx, r.policy, isRetryable, func() error {
		var err error
		order, err = adapter.PlaceOrder(ctx, req)
		return err
	})
	r.observeLatency(venue, start)

	if retryErr != nil {
		breaker.RecordFailure()
		if r.metrics != nil {
			r.metrics.OrdersRejected.WithLabelValues(string(venue), req.Symbol.String(), "adapter_error").Inc()
		}
		return nil, retryErr
	}

	breaker.RecordSuccess()
	r.mu.Lock()
	r.sent[req.ClientOrderID] = true
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.OrdersSubmitted.WithLabelValues(string(venue), req.Symbol.String()).Inc()
	}
	return order, nil
}

// CancelOrder routes a cancel request to its venue's adapter.
func (r *Router) CancelOrder(ctx context.Context, venue types.Venue, clientOrderID string) error {
	r.mu.Lock()
	adapter, breaker, err := r.lookupLocked(venue)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if !breaker.Allow() {
		return &AdapterError{Kind: AdapterErrTransient, Venue: venue, Message: "circuit breaker open"}
	}

	start := time.Now()
	retryErr := retry.Do(ctx, r.policy, isRetryable, func() error {
		return adapter.CancelOrder(ctx, clientOrderID)
	})
	r.observeLatency(venue, start)

	if retryErr != nil {
		breaker.RecordFailure()
		return retryErr
	}
	breaker.RecordSuccess()
	return nil
}

// QueryOrder routes an order-status query to its venue's adapter.
func (r *Router) QueryOrder(ctx context.Context, venue types.Venue, clientOrderID string) (*types.Order, error) {
	r.mu.Lock()
	adapter, breaker, err := r.lookupLocked(venue)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !breaker.Allow() {
		return nil, &AdapterError{Kind: AdapterErrTransient, Venue: venue, Message: "circuit breaker open"}
	}

	order, err := adapter.QueryOrder(ctx, clientOrderID)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return order, nil
}

func (r *Router) lookupLocked(venue types.Venue) (Adapter, *risk.Breaker, error) {
	adapter, ok := r.adapters[venue]
	if !ok {
		return nil, nil, fmt.Errorf("router: no adapter registered for venue %s", venue)
	}
	return adapter, r.breakers[venue], nil
}

func (r *Router) observeLatency(venue types.Venue, start time.Time) {
	if r.metrics != nil {
		r.metrics.RouterLatency.WithLabelValues(string(venue)).Observe(time.Since(start).Seconds())
	}
}

func isRetryable(err error) bool {
	var ae *AdapterError
	if ok := asAdapterError(err, &ae); ok {
		return ae.Retryable()
	}
	return true
}

func asAdapterError(err error, target **AdapterError) bool {
	for err != nil {
		if ae, ok := err.(*AdapterError); ok {
			*target = ae
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
