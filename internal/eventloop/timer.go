package eventloop

import (
	"sync"
	"time"
)

// Timer is a periodic callback created by Loop.Every.
type Timer struct {
	loop     *Loop
	interval time.Duration
	fn       func() bool

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// Every runs fn on the loop every interval. The next run is only scheduled
// after fn returns true, so runs never overlap. Returning false or calling
// Stop ends the timer.
func (l *Loop) Every(interval time.Duration, fn func() bool) *Timer {
	tm := &Timer{loop: l, interval: interval, fn: fn}
	tm.schedule()
	return tm
}

// Stop cancels the timer. A run already queued on the loop is skipped.
// Safe to call more than once and from any goroutine.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Stopped reports whether the timer has ended.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Timer) schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.t = time.AfterFunc(t.interval, t.fire)
}

func (t *Timer) fire() {
	ok := t.loop.Post(func() {
		if t.Stopped() {
			return
		}
		if !t.fn() {
			t.Stop()
			return
		}
		t.schedule()
	})
	if !ok {
		select {
		case <-t.loop.Done():
			t.Stop()
		default:
			// Queue full; try again next interval.
			t.schedule()
		}
	}
}
