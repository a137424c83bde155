package progress

import (
	"math"
	"sync"
	"time"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

const (
	DefaultUnitBudget     = 100
	DefaultNotifyInterval = 200 * time.Millisecond
)

// Aggregator combines the latest Progress of each subsystem of a composite task.
// Every subsystem is scaled to the same unit budget so that, for example, a
// percentage and a byte count contribute equally.
type Aggregator struct {
	unitBudget int64

	mu      sync.RWMutex
	order   []string
	values  map[string]domain.Progress
	subs    map[int]chan domain.Progress
	nextSub int
	closed  bool

	throttle *Throttler
}

func NewAggregator(interval time.Duration, unitBudget int64) *Aggregator {
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}
	if unitBudget <= 0 {
		unitBudget = DefaultUnitBudget
	}
	a := &Aggregator{
		unitBudget: unitBudget,
		values:     make(map[string]domain.Progress),
		subs:       make(map[int]chan domain.Progress),
	}
	a.throttle = NewThrottler(interval, a.publish)
	return a
}

// Register adds a subsystem that contributes zero until its first update.
func (a *Aggregator) Register(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.values[name]; ok {
		return
	}
	a.order = append(a.order, name)
	a.values[name] = domain.Progress{}
}

// Update stores p for the subsystem and schedules a notification when it changed.
func (a *Aggregator) Update(name string, p domain.Progress) {
	a.mu.Lock()
	prev, ok := a.values[name]
	if !ok {
		a.order = append(a.order, name)
	}
	a.values[name] = p
	a.mu.Unlock()

	if ok && prev == p {
		return
	}
	a.throttle.Trigger()
}

// Touch schedules a notification without changing progress, for example after
// new log output.
func (a *Aggregator) Touch() {
	a.throttle.Trigger()
}

// Get returns the latest progress reported by one subsystem.
func (a *Aggregator) Get(name string) domain.Progress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.values[name]
}

// Snapshot returns the combined progress across all subsystems.
func (a *Aggregator) Snapshot() domain.Progress {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var combined domain.Progress
	for _, name := range a.order {
		combined.Total += a.unitBudget
		combined.Completed += int64(math.Round(float64(a.unitBudget) * a.values[name].Fraction()))
	}
	return combined
}

// Subscribe returns a channel of combined snapshots. The channel holds only the
// newest undelivered snapshot; older ones are replaced. The returned func
// unsubscribes and closes the channel.
func (a *Aggregator) Subscribe() (<-chan domain.Progress, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan domain.Progress, 1)
	if a.closed {
		close(ch)
		return ch, func() {}
	}
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
	}
}

// Close delivers any pending notification and closes every subscriber channel.
func (a *Aggregator) Close() {
	a.throttle.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

func (a *Aggregator) publish() {
	snap := a.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
