package risk

import (
	"sync"
	"time"

	"github.com/tradecore/engine/internal/retry"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a per-venue circuit breaker: Closed allows all requests;
// once FailureThreshold consecutive failures are recorded it trips Open
// and rejects every request for openDuration; after that cooldown it
// moves to HalfOpen and admits one probe request at a time — per
// spec.md §4.17 ("one probe order may be sent"), a second Allow() call
// is refused while a probe is still outstanding. HalfOpenProbes
// consecutive probe successes close the breaker; any probe failure
// reopens it and extends the next cooldown (decorrelated-jitter
// backoff via internal/retry, the same policy the order router uses
// for adapter retries) instead of reusing the original openDuration.
//
// Grounded on the teacher's risk.Manager kill-switch cooldown-timer
// pattern (killSwitchActive/killSwitchUntil, internal/risk/manager.go),
// generalized from a single global kill flag with a fixed cooldown to a
// full three-state machine with bounded, serialized half-open probing
// and growing cooldowns.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	baseOpenDuration time.Duration
	halfOpenProbes   int
	cooldown         retry.Policy

	state            BreakerState
	consecutiveFail  int
	openUntil        time.Time
	halfOpenOK       int
	halfOpenInFlight bool
	lastOpenDuration time.Duration // 0 until the first trip
}

// NewBreaker builds a Breaker in the Closed state. openDuration is both
// the initial cooldown and the base of the extended-cooldown backoff
// applied on repeated trips, capped at 8x openDuration.
func NewBreaker(failureThreshold int, openDuration time.Duration, halfOpenProbes int) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		baseOpenDuration: openDuration,
		halfOpenProbes:   halfOpenProbes,
		cooldown:         retry.Policy{Base: openDuration, Max: openDuration * 8},
		state:            BreakerClosed,
	}
}

// Allow reports whether a request may proceed right now, transitioning
// Open -> HalfOpen once the cooldown has elapsed. In HalfOpen, Allow
// admits at most one in-flight probe; callers racing for the next probe
// while one is outstanding are refused until RecordSuccess/RecordFailure
// reports its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Now().After(b.openUntil) {
			b.state = BreakerHalfOpen
			b.halfOpenOK = 0
			b.halfOpenInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess reports a successful request outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.halfOpenOK++
		if b.halfOpenOK >= b.halfOpenProbes {
			b.state = BreakerClosed
			b.consecutiveFail = 0
			b.lastOpenDuration = 0
		}
	case BreakerClosed:
		b.consecutiveFail = 0
	}
}

// RecordFailure reports a failed request outcome, tripping the breaker
// Open if the failure threshold is reached (or immediately, from
// HalfOpen).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.trip()
	case BreakerClosed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	if b.lastOpenDuration <= 0 {
		// first trip (or first since the breaker last fully closed): use
		// the configured duration as-is, no jitter.
		b.lastOpenDuration = b.baseOpenDuration
	} else {
		// a repeat trip without an intervening close — extend the
		// cooldown instead of reopening for the same fixed window.
		b.lastOpenDuration = b.cooldown.Next(b.lastOpenDuration)
	}
	b.openUntil = time.Now().Add(b.lastOpenDuration)
	b.consecutiveFail = 0
	b.halfOpenOK = 0
	b.halfOpenInFlight = false
}

// State returns the breaker's current state without mutating it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
