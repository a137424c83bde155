package download

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/executor"
)

// DefaultConcurrency is the number of items downloaded in parallel.
const DefaultConcurrency = 5

// ItemState is the externally visible state of one item of a batch.
type ItemState struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Version  string              `json:"version"`
	Avatar   string              `json:"avatar,omitempty"`
	Progress float64             `json:"progress"`
	Speed    int64               `json:"speed"`
	Outcome  *domain.TaskOutcome `json:"outcome,omitempty"`
}

// Snapshot is a copy of the batch bookkeeping.
type Snapshot struct {
	Total     int         `json:"total"`
	Running   []ItemState `json:"running"`
	Succeeded []ItemState `json:"succeeded"`
	Failed    []ItemState `json:"failed"`
	Logs      []string    `json:"logs"`
}

// Progress counts every item as 100 units; finished items are complete.
func (s Snapshot) Progress() domain.Progress {
	completed := int64(len(s.Succeeded)+len(s.Failed)) * 100
	for _, r := range s.Running {
		completed += int64(math.Round(r.Progress * 100))
	}
	return domain.NewProgress(completed, int64(s.Total)*100)
}

type batchEventKind int

const (
	batchStarted batchEventKind = iota
	batchReport
	batchFinished
)

type batchEvent struct {
	kind       batchEventKind
	item       domain.WorkItem
	report     Event
	completion executor.Completion[domain.WorkItem]
}

// Batch downloads a list of items with bounded concurrency. Bookkeeping is owned by
// a single coordinator goroutine; workers only send events to it.
type Batch struct {
	controller  *Controller
	concurrency int
	logger      *slog.Logger

	// OnChange, if set, is called from the coordinator after every state change.
	OnChange func(Snapshot)

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewBatch(controller *Controller, concurrency int, logger *slog.Logger) *Batch {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Batch{
		controller:  controller,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run blocks until every item has an outcome. Outcomes are indexed like items.
func (b *Batch) Run(ctx context.Context, items []domain.WorkItem) []domain.TaskOutcome {
	events := make(chan batchEvent, 64)
	done := make(chan struct{})

	b.logger.Info("download batch started",
		"items_count", len(items),
		"concurrency", b.concurrency,
	)

	go b.coordinate(len(items), events, done)

	outcomes := executor.Run(ctx, items, b.concurrency,
		func(ctx context.Context, item domain.WorkItem) domain.TaskOutcome {
			events <- batchEvent{kind: batchStarted, item: item}
			return b.controller.Process(ctx, item, func(e Event) {
				events <- batchEvent{kind: batchReport, report: e}
			})
		},
		func(c executor.Completion[domain.WorkItem]) {
			events <- batchEvent{kind: batchFinished, completion: c}
		},
	)

	close(events)
	<-done

	snap := b.Snapshot()
	b.logger.Info("download batch finished",
		"succeeded", len(snap.Succeeded),
		"failed", len(snap.Failed),
	)
	return outcomes
}

// Snapshot returns the latest published state. Safe for concurrent use.
func (b *Batch) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

func (b *Batch) Progress() domain.Progress {
	return b.Snapshot().Progress()
}

func (b *Batch) coordinate(total int, events <-chan batchEvent, done chan<- struct{}) {
	defer close(done)

	var (
		running   = make(map[string]*ItemState)
		order     []string
		succeeded []ItemState
		failed    []ItemState
		logs      []string
	)

	publish := func() {
		snap := Snapshot{
			Total:     total,
			Running:   make([]ItemState, 0, len(order)),
			Succeeded: append([]ItemState(nil), succeeded...),
			Failed:    append([]ItemState(nil), failed...),
			Logs:      append([]string(nil), logs...),
		}
		for _, id := range order {
			snap.Running = append(snap.Running, *running[id])
		}

		b.mu.Lock()
		b.snapshot = snap
		b.mu.Unlock()

		if b.OnChange != nil {
			b.OnChange(snap)
		}
	}

	publish()

	for ev := range events {
		switch ev.kind {
		case batchStarted:
			if _, ok := running[ev.item.ID]; !ok {
				order = append(order, ev.item.ID)
			}
			running[ev.item.ID] = &ItemState{ID: ev.item.ID, Name: ev.item.Name, Version: "0"}

		case batchReport:
			st, ok := running[ev.report.ItemID]
			if !ok {
				continue
			}
			switch ev.report.Kind {
			case EventResolved:
				if d := ev.report.Descriptor; d != nil {
					st.Name = d.Name
					st.Version = d.Version
					st.Avatar = d.AvatarURL
				}
			case EventProgress:
				if ev.report.Fraction == st.Progress && ev.report.Speed == st.Speed {
					continue
				}
				st.Progress = ev.report.Fraction
				st.Speed = ev.report.Speed
			case EventLog:
				logs = append(logs, ev.report.Message)
			}

		case batchFinished:
			c := ev.completion
			st, ok := running[c.Item.ID]
			if !ok {
				st = &ItemState{ID: c.Item.ID, Name: c.Item.Name, Version: "0"}
			}
			delete(running, c.Item.ID)
			order = removeID(order, c.Item.ID)

			outcome := c.Outcome
			st.Outcome = &outcome
			st.Speed = 0
			if outcome.IsSuccess() {
				st.Progress = 1
				succeeded = append(succeeded, *st)
			} else {
				failed = append(failed, *st)
				logs = append(logs, c.Item.ID+": "+outcome.Message)
			}
		}
		publish()
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
