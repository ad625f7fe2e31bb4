// Package dispatch implements the prioritized single-threaded event loop:
// four priority classes drained in strict precedence on every tick, plus a
// bounded worker pool for the blocking I/O (REST calls, WAL fsync) that
// must never run on the loop goroutine itself.
//
// Grounded on the teacher's internal/engine.manageMarkets select-loop (one
// goroutine, one select draining several channels per iteration) and on
// the sequencer/batcher idiom in the disruptor reference package, adapted
// from single-priority admission to four explicit classes.
package dispatch

import (
	"context"
	"sync/atomic"
)

// Priority is the admission class a task is queued under.
type Priority int

const (
	Critical Priority = iota // risk breaches, cancel-all
	High                     // fills, order acks
	Normal                   // market data
	Low                      // metrics, housekeeping
	numPriorities
)

// Task is one unit of work admitted to the loop.
type Task func()

// Loop is a single-goroutine, four-priority event loop. Call Tick
// repeatedly (typically from Run, driven by a caller-owned ticker or
// tight loop) to drain Critical fully, then up to HighBatch High tasks,
// then one Normal batch, then one Low item.
type Loop struct {
	queues    [numPriorities]chan Task
	highBatch int
	stopped   int32
}

// Config tunes the loop's queue depths and batch sizes.
type Config struct {
	QueueDepth int // per-priority channel buffer size
	HighBatch  int // max High tasks admitted per tick before yielding to Normal/Low
}

// DefaultConfig matches the teacher's channel-buffer sizes for market/user
// event dispatch (see internal/exchange/ws.go's eventBuffer).
func DefaultConfig() Config {
	return Config{QueueDepth: 256, HighBatch: 64}
}

// New builds a Loop ready to accept Submit calls.
func New(cfg Config) *Loop {
	if cfg.HighBatch <= 0 {
		cfg.HighBatch = 64
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	l := &Loop{highBatch: cfg.HighBatch}
	for p := range l.queues {
		l.queues[p] = make(chan Task, cfg.QueueDepth)
	}
	return l
}

// Submit enqueues a task at the given priority. Blocks if that priority's
// queue is full — callers on Critical/High should size queues generously
// enough that this never happens on the hot path; Normal/Low producers are
// expected to tolerate backpressure.
func (l *Loop) Submit(p Priority, t Task) {
	l.queues[p] <- t
}

// TrySubmit enqueues without blocking, returning false if the queue is
// full.
func (l *Loop) TrySubmit(p Priority, t Task) bool {
	select {
	case l.queues[p] <- t:
		return true
	default:
		return false
	}
}

// Tick drains the admission policy once: all pending Critical tasks, up
// to HighBatch High tasks, one Normal task, one Low task. Returns the
// number of tasks it ran, so callers can decide whether to keep spinning
// or block waiting for more work.
func (l *Loop) Tick() int {
	ran := 0

	for {
		select {
		case t := <-l.queues[Critical]:
			t()
			ran++
			continue
		default:
		}
		break
	}

	for i := 0; i < l.highBatch; i++ {
		select {
		case t := <-l.queues[High]:
			t()
			ran++
		default:
			goto normal
		}
	}
normal:
	select {
	case t := <-l.queues[Normal]:
		t()
		ran++
	default:
	}

	select {
	case t := <-l.queues[Low]:
		t()
		ran++
	default:
	}

	return ran
}

// Run drives Tick until ctx is cancelled. When a tick admits nothing, it
// blocks on whichever priority's channel receives first rather than busy
// spinning.
func (l *Loop) Run(ctx context.Context) {
	for {
		if atomic.LoadInt32(&l.stopped) != 0 {
			return
		}
		if ran := l.Tick(); ran > 0 {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case t := <-l.queues[Critical]:
			t()
		case t := <-l.queues[High]:
			t()
		case t := <-l.queues[Normal]:
			t()
		case t := <-l.queues[Low]:
			t()
		}
	}
}

// Stop signals Run to return after its current tick.
func (l *Loop) Stop() {
	atomic.StoreInt32(&l.stopped, 1)
}

// WorkerPool runs blocking work (REST calls, WAL fsync) off the loop
// goroutine on a fixed number of workers, grounded on the teacher's
// goroutine-per-market-slot fan-out generalized to a shared fixed pool.
type WorkerPool struct {
	jobs chan func()
}

// NewWorkerPool starts n worker goroutines draining jobs submitted via
// Submit, until ctx is cancelled.
func NewWorkerPool(ctx context.Context, n, queueDepth int) *WorkerPool {
	wp := &WorkerPool{jobs: make(chan func(), queueDepth)}
	for i := 0; i < n; i++ {
		go wp.worker(ctx)
	}
	return wp
}

func (wp *WorkerPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-wp.jobs:
			job()
		}
	}
}

// Submit enqueues blocking work for a worker to pick up.
func (wp *WorkerPool) Submit(job func()) {
	wp.jobs <- job
}
