// Package clock provides the engine's single source of time: a monotonic
// clock plus a periodically-sampled offset against an external reference,
// so every timestamp stamped onto an order, fill or WAL record traces back
// to one clock rather than each goroutine calling time.Now() independently.
package clock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Source supplies an external reference timestamp, e.g. a venue's server
// time endpoint. Production wiring plugs in a REST call; tests plug in a
// fake.
type Source func(ctx context.Context) (time.Time, error)

// Clock tracks a calibrated offset from time.Now() to an external
// reference, updated on SyncInterval. Now() never blocks on network I/O —
// it always returns time.Now() adjusted by the last successfully sampled
// offset.
type Clock struct {
	source       Source
	syncInterval time.Duration
	maxSkew      time.Duration
	offsetNanos  int64 // atomic
	logger       *slog.Logger
}

// New builds a Clock. If source is nil, Now() is simply time.Now() and no
// background sync loop runs.
func New(source Source, syncInterval, maxSkew time.Duration, logger *slog.Logger) *Clock {
	return &Clock{
		source:       source,
		syncInterval: syncInterval,
		maxSkew:      maxSkew,
		logger:       logger,
	}
}

// Now returns the calibrated current time.
func (c *Clock) Now() time.Time {
	offset := atomic.LoadInt64(&c.offsetNanos)
	return time.Now().Add(time.Duration(offset))
}

// Offset returns the currently applied offset.
func (c *Clock) Offset() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.offsetNanos))
}

// Run samples the source on a ticker until ctx is cancelled. An offset
// whose magnitude exceeds maxSkew is logged at Warn but still applied —
// callers that need to treat excessive skew as fatal should inspect
// Offset() themselves.
func (c *Clock) Run(ctx context.Context) {
	if c.source == nil {
		return
	}
	c.sample(ctx)

	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Clock) sample(ctx context.Context) {
	ref, err := c.source(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("clock sync failed", "error", err)
		}
		return
	}
	offset := ref.Sub(time.Now())
	if c.maxSkew > 0 && (offset > c.maxSkew || offset < -c.maxSkew) {
		if c.logger != nil {
			c.logger.Warn("clock offset exceeds max skew", "offset", offset, "max_skew", c.maxSkew)
		}
	}
	atomic.StoreInt64(&c.offsetNanos, int64(offset))
}
