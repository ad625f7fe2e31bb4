// Package exchange implements the venue-facing trading surface: the
// Adapter contract every exchange integration satisfies, a reference
// HMAC-authenticated REST/WebSocket implementation, rate limiting, and
// the retrying, circuit-broken Router that sits in front of them.
package exchange

import (
	"context"
	"fmt"

	"github.com/tradecore/engine/pkg/money"
	"github.com/tradecore/engine/pkg/types"
)

// Balance is one asset's available and locked amount on a venue.
type Balance struct {
	Asset     string
	Available money.Decimal
	Locked    money.Decimal
}

// PlaceOrderRequest carries everything an adapter needs to submit a new
// order. ClientOrderID is always pre-allocated by the OMS layer before
// an adapter ever sees it, so adapters never generate their own IDs.
type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        types.Symbol
	Side          types.Side
	Type          types.OrderType
	TIF           types.TimeInForce
	Price         money.Decimal
	Qty           money.Decimal
}

// Adapter is the contract every exchange integration must satisfy so the
// router and OMS can treat every venue identically. Generalized from the
// teacher's concrete Client (internal/exchange/client.go), which hard-coded
// a single venue's REST surface directly into the call sites that used it.
type Adapter interface {
	Venue() types.Venue

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	QueryOrder(ctx context.Context, clientOrderID string) (*types.Order, error)

	FetchBalances(ctx context.Context) ([]Balance, error)

	// SubscribeMarket starts streaming market data for symbol into the
	// adapter's internal feed; delivered events reach consumers through
	// the adapter's WS feed accessors, not a return value here.
	SubscribeMarket(ctx context.Context, symbol types.Symbol) error

	// SubscribeUserStream starts the authenticated per-account stream
	// (fills, order lifecycle).
	SubscribeUserStream(ctx context.Context) error

	Close() error
}

// AdapterErrorKind classifies an adapter-level failure so the router can
// decide whether a request is retryable without venue-specific error
// string matching at every call site.
type AdapterErrorKind string

const (
	AdapterErrTransient    AdapterErrorKind = "transient"     // network/5xx, safe to retry
	AdapterErrRejected     AdapterErrorKind = "rejected"      // venue rejected the order, not retryable
	AdapterErrRateLimited  AdapterErrorKind = "rate_limited"  // 429, retry after backoff
	AdapterErrAuth         AdapterErrorKind = "auth"          // bad credentials, not retryable
	AdapterErrUnknown      AdapterErrorKind = "unknown"
)

// AdapterError wraps a venue-reported failure with a classification the
// Router and retry policy can act on.
type AdapterError struct {
	Kind    AdapterErrorKind
	Venue   types.Venue
	Message string
	Cause   error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exchange[%s]: %s: %v", e.Venue, e.Message, e.Cause)
	}
	return fmt.Sprintf("exchange[%s]: %s", e.Venue, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// Retryable reports whether the router should retry the request that
// produced this error.
func (e *AdapterError) Retryable() bool {
	return e.Kind == AdapterErrTransient || e.Kind == AdapterErrRateLimited
}
