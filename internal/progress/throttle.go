package progress

import (
	"sync"
	"time"
)

// Throttler calls emit at most once per interval. A trigger that arrives inside the
// window is coalesced into one trailing call at the end of the window, so the last
// trigger is never lost. emit should read the latest state itself.
type Throttler struct {
	interval time.Duration
	emit     func()

	mu      sync.Mutex
	last    time.Time
	timer   *time.Timer
	pending bool
	closed  bool
}

func NewThrottler(interval time.Duration, emit func()) *Throttler {
	return &Throttler{interval: interval, emit: emit}
}

// Trigger requests an emission.
func (t *Throttler) Trigger() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.pending = true
		t.mu.Unlock()
		return
	}

	now := time.Now()
	wait := t.interval - now.Sub(t.last)
	if wait <= 0 {
		t.last = now
		t.mu.Unlock()
		t.emit()
		return
	}

	t.pending = true
	t.timer = time.AfterFunc(wait, t.fire)
	t.mu.Unlock()
}

func (t *Throttler) fire() {
	t.mu.Lock()
	t.timer = nil
	if !t.pending || t.closed {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.last = time.Now()
	t.mu.Unlock()

	t.emit()
}

// Close emits any pending trigger immediately and ignores later ones.
func (t *Throttler) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if pending {
		t.emit()
	}
}
