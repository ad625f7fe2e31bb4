// Package retry implements decorrelated-jitter exponential backoff, used
// by the order router (C16) for transient adapter errors and by the
// WebSocket client (C11) for reconnects.
//
// Grounded on the teacher's exchange.WSFeed reconnect loop, which doubles
// a fixed base delay up to a cap with no jitter; this module generalizes
// that to the decorrelated-jitter formula (AWS's "full jitter" family) so
// many concurrent retriers don't all retry in lockstep.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a decorrelated-jitter backoff sequence.
type Policy struct {
	Base    time.Duration
	Max     time.Duration
	MaxTries int // 0 = unlimited
}

// DefaultPolicy mirrors the teacher's WSFeed reconnect bounds (1s base,
// 30s cap).
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 30 * time.Second}
}

// Next computes the next decorrelated-jitter delay given the previous
// delay (pass 0 for the first call).
func (p Policy) Next(prev time.Duration) time.Duration {
	if prev <= 0 {
		prev = p.Base
	}
	upper := prev * 3
	if upper > p.Max {
		upper = p.Max
	}
	if upper <= p.Base {
		return p.Base
	}
	d := p.Base + time.Duration(rand.Int63n(int64(upper-p.Base)))
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Do runs fn, retrying with backoff until it succeeds, ctx is cancelled,
// or MaxTries is exhausted. shouldRetry decides whether a given error is
// worth retrying at all (e.g. not a permanent rejection).
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, fn func() error) error {
	var delay time.Duration
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}
		attempt++
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if p.MaxTries > 0 && attempt >= p.MaxTries {
			return err
		}
		delay = p.Next(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
