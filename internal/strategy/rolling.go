// rolling.go provides a small time-windowed price series shared by the
// directional templates (ma_crossover, mean_reversion, momentum), each of
// which needs a bounded history of recent mid prices to compute an
// average, a standard deviation, or a lookback return.
package strategy

import (
	"math"
	"sync"
	"time"
)

type pricePoint struct {
	price float64
	at    time.Time
}

// priceSeries is a mutex-guarded, time-evicted slice of recent prices.
type priceSeries struct {
	mu     sync.Mutex
	maxAge time.Duration
	points []pricePoint
}

func newPriceSeries(maxAge time.Duration) *priceSeries {
	return &priceSeries{maxAge: maxAge}
}

func (s *priceSeries) add(price float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, pricePoint{price: price, at: at})
	cutoff := at.Add(-s.maxAge)
	i := 0
	for i < len(s.points) && s.points[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.points = s.points[i:]
	}
}

// mean returns the arithmetic mean of the last n points (or all points if
// fewer than n are available), newest-first.
func (s *priceSeries) mean(n int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return 0, false
	}
	start := 0
	if len(s.points) > n {
		start = len(s.points) - n
	}
	window := s.points[start:]
	var sum float64
	for _, p := range window {
		sum += p.price
	}
	return sum / float64(len(window)), true
}

// stddev returns the population standard deviation of the last n points.
func (s *priceSeries) stddev(n int) (mean, stddev float64, ok bool) {
	s.mu.Lock()
	points := append([]pricePoint(nil), s.points...)
	s.mu.Unlock()
	if len(points) == 0 {
		return 0, 0, false
	}
	start := 0
	if len(points) > n {
		start = len(points) - n
	}
	window := points[start:]
	var sum float64
	for _, p := range window {
		sum += p.price
	}
	m := sum / float64(len(window))
	var variance float64
	for _, p := range window {
		d := p.price - m
		variance += d * d
	}
	variance /= float64(len(window))
	return m, math.Sqrt(variance), true
}

// oldest returns the earliest point still retained, used by momentum to
// compute a lookback return.
func (s *priceSeries) oldest() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[0].price, true
}

// latest returns the most recently added point.
func (s *priceSeries) latest() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return 0, false
	}
	return s.points[len(s.points)-1].price, true
}
