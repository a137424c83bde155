package progress

import (
	"sync"
	"time"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// Tracker holds the overall and current channels of one process-based task
// together with its output history.
type Tracker struct {
	mu      sync.RWMutex
	overall domain.Progress
	current domain.Progress
	logs    []domain.LogEntry
}

func NewTracker() *Tracker {
	return &Tracker{
		overall: domain.NewProgress(0, OverallPercentTotal),
		current: domain.NewProgress(0, OverallPercentTotal),
	}
}

// Apply records a parsed entry and reports whether observable state changed.
// Progress equal to the channel's previous value is not a change.
func (t *Tracker) Apply(e Entry) bool {
	switch e.Kind {
	case KindOverall:
		return t.SetOverall(e.Progress)
	case KindCurrent:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.current == e.Progress {
			return false
		}
		t.current = e.Progress
		return true
	case KindLog:
		t.AppendLog(e.Text, false)
		return true
	}
	return false
}

// SetOverall replaces the overall channel value.
func (t *Tracker) SetOverall(p domain.Progress) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.overall == p {
		return false
	}
	t.overall = p
	return true
}

// AppendLog adds a line to the output history.
func (t *Tracker) AppendLog(text string, isError bool) {
	t.mu.Lock()
	t.logs = append(t.logs, domain.LogEntry{Time: time.Now(), Text: text, IsError: isError})
	t.mu.Unlock()
}

func (t *Tracker) Overall() domain.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.overall
}

func (t *Tracker) Current() domain.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Logs returns a copy of the output history.
func (t *Tracker) Logs() []domain.LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.LogEntry, len(t.logs))
	copy(out, t.logs)
	return out
}
