package market

import (
	"math"
	"sync"
	"time"

	"github.com/tradecore/engine/pkg/types"
)

// AnomalyKind names one of the four independent market-quality rules.
type AnomalyKind string

const (
	PriceSpike      AnomalyKind = "price_spike"
	VolumeSurge     AnomalyKind = "volume_surge"
	SpreadWidening  AnomalyKind = "spread_widening"
	OrderImbalance  AnomalyKind = "order_imbalance"
)

// Anomaly is one detected market-quality event.
type Anomaly struct {
	Venue     types.Venue
	Symbol    types.Symbol
	Kind      AnomalyKind
	Severity  float64 // standard deviations beyond the rolling mean
	Timestamp time.Time
}

// DefaultRollingTicks is the default rolling-window size, per spec.md
// §4.10's "N=100 ticks".
const DefaultRollingTicks = 100

// rollingStat is a fixed-size ring buffer mean/stddev accumulator over
// the last n ticks, the same evict-then-recompute idiom the teacher's
// FlowTracker uses for its rolling fill window
// (internal/strategy/flow_tracker.go), generalized from one
// fill-direction signal to an arbitrary scalar series and from a
// wall-clock window to a fixed tick count per spec.md §4.10 — the
// effective sample size backing the z-score must stay stable at N
// regardless of how fast ticks arrive, not shrink or grow with tick
// rate the way a time.Duration window would.
type rollingStat struct {
	n       int
	samples []float64 // grows to n, then wraps via next
	next    int
}

func newRollingStat(n int) *rollingStat {
	if n <= 0 {
		n = DefaultRollingTicks
	}
	return &rollingStat{n: n, samples: make([]float64, 0, n)}
}

func (r *rollingStat) add(v float64) {
	if len(r.samples) < r.n {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % r.n
}

func (r *rollingStat) meanStddev() (mean, stddev float64) {
	n := len(r.samples)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range r.samples {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range r.samples {
		d := v - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(n-1))
	return mean, stddev
}

// zscore reports how many standard deviations v is from the rolling mean,
// or 0 if there isn't enough history to judge yet. Against a flat history
// of at least two samples (stddev 0), any value off the mean scores +Inf.
func (r *rollingStat) zscore(v float64) float64 {
	mean, stddev := r.meanStddev()
	if stddev == 0 {
		if len(r.samples) >= 2 && v != mean {
			return math.Inf(1)
		}
		return 0
	}
	return math.Abs(v-mean) / stddev
}

// Detector runs the four market-quality rules per (venue, symbol),
// emitting an Anomaly whenever a rule's z-score exceeds Threshold.
type Detector struct {
	mu        sync.Mutex
	ticks     int
	threshold float64
	stats     map[detectorKey]*rollingStat
	onAnomaly func(Anomaly)
}

type detectorKey struct {
	venue  types.Venue
	symbol types.Symbol
	kind   AnomalyKind
}

// NewDetector builds a Detector tracking the last ticks samples per
// (venue, symbol, rule) — pass DefaultRollingTicks for the spec's N=100
// default — and a z-score threshold (e.g. 3.0) above which a sample is
// flagged anomalous.
func NewDetector(ticks int, threshold float64, onAnomaly func(Anomaly)) *Detector {
	return &Detector{
		ticks: ticks, threshold: threshold,
		stats: make(map[detectorKey]*rollingStat), onAnomaly: onAnomaly,
	}
}

func (d *Detector) observe(venue types.Venue, symbol types.Symbol, kind AnomalyKind, value float64, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := detectorKey{venue, symbol, kind}
	st, ok := d.stats[k]
	if !ok {
		st = newRollingStat(d.ticks)
		d.stats[k] = st
	}

	z := st.zscore(value)
	st.add(value)

	if z >= d.threshold && d.onAnomaly != nil {
		d.onAnomaly(Anomaly{Venue: venue, Symbol: symbol, Kind: kind, Severity: z, Timestamp: at})
	}
}

// ObservePrice feeds one trade price sample into the PriceSpike rule.
func (d *Detector) ObservePrice(venue types.Venue, symbol types.Symbol, price float64, at time.Time) {
	d.observe(venue, symbol, PriceSpike, price, at)
}

// ObserveVolume feeds one trade's volume (its quantity) into the VolumeSurge rule.
func (d *Detector) ObserveVolume(venue types.Venue, symbol types.Symbol, volume float64, at time.Time) {
	d.observe(venue, symbol, VolumeSurge, volume, at)
}

// ObserveSpread feeds one book-top bid/ask spread into the SpreadWidening rule.
func (d *Detector) ObserveSpread(venue types.Venue, symbol types.Symbol, spread float64, at time.Time) {
	d.observe(venue, symbol, SpreadWidening, spread, at)
}

// ObserveImbalance feeds one top-of-book (bidQty-askQty)/(bidQty+askQty)
// sample into the OrderImbalance rule.
func (d *Detector) ObserveImbalance(venue types.Venue, symbol types.Symbol, bidQty, askQty float64, at time.Time) {
	total := bidQty + askQty
	if total == 0 {
		return
	}
	imbalance := (bidQty - askQty) / total
	d.observe(venue, symbol, OrderImbalance, imbalance, at)
}
