package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/metrics"
	"github.com/veranemoloko/mobile-transfer/internal/progress"
)

// Subsystem names registered with a task's aggregator.
const (
	subsystemDevice       = "device"
	subsystemApplications = "applications"
	subsystemInstall      = "install"
)

// maxPersistedLogs bounds the log tail copied into the stored task record.
const maxPersistedLogs = 500

type runFunc func(ctx context.Context, at *activeTask) domain.TaskOutcome

// activeTask is the in-memory side of a pending or running task.
type activeTask struct {
	id   uuid.UUID
	kind domain.TaskKind
	run  runFunc

	ctx    context.Context
	cancel context.CancelFunc

	agg     *progress.Aggregator
	tracker *progress.Tracker

	itemsMu sync.Mutex
	items   []domain.ItemRecord

	done       chan struct{}
	finishOnce sync.Once
}

func newActiveTask(id uuid.UUID, kind domain.TaskKind, run runFunc, opts Options) *activeTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeTask{
		id:      id,
		kind:    kind,
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
		agg:     progress.NewAggregator(opts.NotifyInterval, opts.UnitBudget),
		tracker: progress.NewTracker(),
		done:    make(chan struct{}),
	}
}

func (at *activeTask) finish() {
	at.finishOnce.Do(func() {
		at.cancel()
		close(at.done)
	})
}

func (at *activeTask) setItems(items []domain.ItemRecord) {
	at.itemsMu.Lock()
	at.items = items
	at.itemsMu.Unlock()
}

func (at *activeTask) updateItem(id string, fn func(*domain.ItemRecord)) {
	at.itemsMu.Lock()
	defer at.itemsMu.Unlock()
	for i := range at.items {
		if at.items[i].ID == id {
			fn(&at.items[i])
			return
		}
	}
}

func (at *activeTask) itemsSnapshot() []domain.ItemRecord {
	at.itemsMu.Lock()
	defer at.itemsMu.Unlock()
	if at.items == nil {
		return nil
	}
	out := make([]domain.ItemRecord, len(at.items))
	copy(out, at.items)
	return out
}

func (at *activeTask) recentLogs() []domain.LogEntry {
	logs := at.tracker.Logs()
	if len(logs) > maxPersistedLogs {
		logs = logs[len(logs)-maxPersistedLogs:]
	}
	return logs
}

func (at *activeTask) log(format string, args ...any) {
	at.tracker.AppendLog(fmt.Sprintf(format, args...), false)
	at.agg.Touch()
}

func (at *activeTask) logError(format string, args ...any) {
	at.tracker.AppendLog(fmt.Sprintf(format, args...), true)
	at.agg.Touch()
}

// execute runs the task body and stores its terminal state.
func (s *TaskService) execute(at *activeTask) {
	defer s.runWG.Done()
	defer s.forget(at)

	logger := s.logger.With("task_id", at.id, "kind", at.kind)

	inProgress := domain.TaskStatusInProgress
	if err := s.sendEvent(context.Background(), domain.TaskEvent{
		Type:    domain.EventUpdateTask,
		TaskID:  at.id,
		Updates: &domain.TaskUpdate{Status: &inProgress},
	}); err != nil {
		logger.Error("failed to mark task in progress", "error", err)
	}
	logger.Info("start processing task")

	updates, unsubscribe := at.agg.Subscribe()
	forwarded := make(chan struct{})
	go s.forward(at, updates, forwarded)

	outcome := s.runGuarded(at)

	at.agg.Close()
	<-forwarded
	unsubscribe()

	status := terminalStatus(at.ctx, outcome)
	snapshot := at.agg.Snapshot()
	err := s.sendEvent(context.Background(), domain.TaskEvent{
		Type:   domain.EventUpdateTask,
		TaskID: at.id,
		Updates: &domain.TaskUpdate{
			Status:   &status,
			Outcome:  &outcome,
			Progress: &snapshot,
			Items:    at.itemsSnapshot(),
			Logs:     at.recentLogs(),
		},
		Done: make(chan struct{}),
	})
	if err != nil {
		logger.Error("failed to store final task state", "error", err)
	}

	metrics.TasksFinished.WithLabelValues(string(at.kind), string(status)).Inc()
	logger.Info("task finished",
		"status", status,
		"outcome", outcome.String(),
		"message", outcome.Message,
	)
}

func (s *TaskService) runGuarded(at *activeTask) (outcome domain.TaskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task_id", at.id, "panic", r)
			outcome = domain.Failed(domain.ReasonInternal, fmt.Errorf("task panic: %v", r))
		}
	}()
	if at.ctx.Err() != nil {
		return domain.Cancelled()
	}
	return at.run(at.ctx, at)
}

// forward turns throttled aggregator snapshots into task record updates.
func (s *TaskService) forward(at *activeTask, updates <-chan domain.Progress, done chan<- struct{}) {
	defer close(done)
	for p := range updates {
		snapshot := p
		err := s.sendEvent(context.Background(), domain.TaskEvent{
			Type:   domain.EventUpdateTask,
			TaskID: at.id,
			Updates: &domain.TaskUpdate{
				Progress: &snapshot,
				Items:    at.itemsSnapshot(),
				Logs:     at.recentLogs(),
			},
		})
		if err != nil {
			return
		}
	}
}

func terminalStatus(ctx context.Context, outcome domain.TaskOutcome) domain.TaskStatus {
	switch {
	case outcome.IsSuccess():
		return domain.TaskStatusCompleted
	case outcome.IsCancelled(), ctx.Err() != nil:
		return domain.TaskStatusCancelled
	}
	return domain.TaskStatusFailed
}
