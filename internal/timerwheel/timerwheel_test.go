package timerwheel

import (
	"testing"
	"time"
)

func TestScheduleFiresAfterAdvance(t *testing.T) {
	t.Parallel()
	w := New(time.Millisecond)

	fired := false
	w.Schedule(2*time.Millisecond, func() { fired = true })

	w.Advance()
	if fired {
		t.Fatal("timer fired after one tick, expected after two")
	}
	w.Advance()
	if !fired {
		t.Error("timer did not fire after enough ticks advanced")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	t.Parallel()
	w := New(time.Millisecond)

	fired := false
	handle := w.Schedule(time.Millisecond, func() { fired = true })
	w.Cancel(handle)
	w.Advance()

	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestMultipleTimersSameSlotAllFire(t *testing.T) {
	t.Parallel()
	w := New(time.Millisecond)

	count := 0
	for i := 0; i < 5; i++ {
		w.Schedule(time.Millisecond, func() { count++ })
	}
	w.Advance()

	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	t.Parallel()
	w := New(time.Millisecond)
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		w.Run(stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}
