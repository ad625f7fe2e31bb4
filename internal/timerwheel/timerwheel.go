// Package timerwheel implements a hierarchical (cascading) timing wheel:
// four cascading levels at increasing tick resolutions, giving O(1)
// schedule/cancel regardless of how far in the future a timer fires.
//
// No pack repo ships a timing-wheel library, so this is built directly on
// container/list the way the teacher reaches for a stdlib container
// whenever nothing richer is needed (see its use of plain maps/slices
// throughout internal/engine).
package timerwheel

import (
	"container/list"
	"sync"
	"time"
)

const (
	levels     = 4
	slotsLevel = 256
)

// Timer is a handle returned by Wheel.Schedule; pass it to Cancel to
// remove the timer before it fires.
type Timer struct {
	entry *list.Element
	level int
	slot  int
}

type timerEntry struct {
	deadline time.Time
	callback func()
	cancelled bool
}

// Wheel is a hierarchical timing wheel. Resolution doubles each level by
// slotsLevel, so with a 1ms base tick the four levels span
// ~1ms, ~256ms, ~65s, ~4.6h.
type Wheel struct {
	mu        sync.Mutex
	baseTick  time.Duration
	wheels    [levels][slotsLevel]*list.List
	cursor    [levels]int
	lastTick  time.Time
	started   bool
}

// New builds a Wheel with the given base resolution (spec.md's level-0
// tick, typically 1ms).
func New(baseTick time.Duration) *Wheel {
	w := &Wheel{baseTick: baseTick}
	for l := 0; l < levels; l++ {
		for s := 0; s < slotsLevel; s++ {
			w.wheels[l][s] = list.New()
		}
	}
	return w
}

// Schedule registers cb to run after d elapses. O(1) regardless of d's
// magnitude: it is placed directly in the lowest level whose span covers
// d, not cascaded down from the top.
func (w *Wheel) Schedule(d time.Duration, cb func()) *Timer {
	w.mu.Lock()
	defer w.mu.Unlock()

	level, slot := w.levelSlotLocked(d)
	entry := &timerEntry{deadline: w.lastTick.Add(d), callback: cb}
	el := w.wheels[level][slot].PushBack(entry)
	return &Timer{entry: el, level: level, slot: slot}
}

func (w *Wheel) levelSlotLocked(d time.Duration) (level, slot int) {
	ticks := int64(d / w.baseTick)
	if ticks < 1 {
		ticks = 1
	}
	span := int64(1)
	for l := 0; l < levels; l++ {
		levelSpan := span * slotsLevel
		if ticks < levelSpan || l == levels-1 {
			offset := (int64(w.cursor[l]) + ticks/span) % slotsLevel
			return l, int(offset)
		}
		span = levelSpan
	}
	return levels - 1, w.cursor[levels-1]
}

// Cancel removes a previously scheduled timer. Safe to call after the
// timer has already fired (a no-op in that case).
func (w *Wheel) Cancel(t *Timer) {
	if t == nil || t.entry == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if entry, ok := t.entry.Value.(*timerEntry); ok {
		entry.cancelled = true
	}
}

// Advance moves the wheel forward by one base tick, firing (and removing)
// any timer whose slot the cursor now points at at level 0, cascading
// lower-resolution levels down into level 0 as their own cursor wraps.
// Run calls Advance once per base tick from its own ticker.
func (w *Wheel) Advance() {
	w.mu.Lock()
	due := w.advanceLocked()
	w.mu.Unlock()

	for _, cb := range due {
		cb()
	}
}

func (w *Wheel) advanceLocked() []func() {
	var due []func()

	w.cursor[0] = (w.cursor[0] + 1) % slotsLevel
	due = append(due, w.drainSlot(0, w.cursor[0])...)

	for l := 1; l < levels; l++ {
		if w.cursor[l-1] != 0 {
			break // lower level hasn't wrapped yet, higher levels stay put
		}
		w.cursor[l] = (w.cursor[l] + 1) % slotsLevel
		// cascade: move this slot's entries down into level 0 for
		// fine-grained re-scheduling, then drain anything already at
		// level 0's granularity (entries scheduled with sub-level span).
		slot := w.wheels[l][w.cursor[l]]
		for e := slot.Front(); e != nil; {
			next := e.Next()
			entry := e.Value.(*timerEntry)
			slot.Remove(e)
			if !entry.cancelled {
				due = append(due, entry.callback)
			}
			e = next
		}
	}
	return due
}

func (w *Wheel) drainSlot(level, slot int) []func() {
	var due []func()
	l := w.wheels[level][slot]
	for e := l.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*timerEntry)
		l.Remove(e)
		if !entry.cancelled {
			due = append(due, entry.callback)
		}
		e = next
	}
	return due
}

// Run drives the wheel with a real ticker until stop is closed.
func (w *Wheel) Run(stop <-chan struct{}) {
	t := time.NewTicker(w.baseTick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			w.Advance()
		}
	}
}
