package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	"github.com/veranemoloko/mobile-transfer/internal/download"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/metrics"
	"github.com/veranemoloko/mobile-transfer/internal/progress"
	"github.com/veranemoloko/mobile-transfer/internal/repository"
)

// Engines describes the external executables and the versions probed at startup.
type Engines struct {
	BackupPath     string
	BackupVersion  string
	InstallPath    string
	InstallVersion string
}

// Options tune task execution.
type Options struct {
	DownloadConcurrency int
	InstallConcurrency  int
	NotifyInterval      time.Duration
	UnitBudget          int64
	CancelGrace         time.Duration
}

func DefaultOptions() Options {
	return Options{
		DownloadConcurrency: download.DefaultConcurrency,
		InstallConcurrency:  3,
		NotifyInterval:      progress.DefaultNotifyInterval,
		UnitBudget:          progress.DefaultUnitBudget,
		CancelGrace:         10 * time.Second,
	}
}

// TaskService creates and runs backup, restore and install tasks. Task records are
// mutated only by the event processor goroutine.
type TaskService struct {
	taskRepo  repository.TaskRepo
	downloads *download.Controller
	engines   Engines
	opts      Options
	logger    *slog.Logger

	eventChan    chan domain.TaskEvent
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	processorWG  sync.WaitGroup
	runWG        sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]*activeTask
}

func NewTaskService(
	taskRepo repository.TaskRepo,
	downloads *download.Controller,
	engines Engines,
	opts Options,
	logger *slog.Logger,
) *TaskService {
	service := &TaskService{
		taskRepo:     taskRepo,
		downloads:    downloads,
		engines:      engines,
		opts:         opts,
		logger:       logger,
		eventChan:    make(chan domain.TaskEvent, 100),
		shutdownChan: make(chan struct{}),
		active:       make(map[uuid.UUID]*activeTask),
	}

	service.processorWG.Add(1)
	go service.eventProcessor()

	return service
}

// CreateBackup registers a backup task and starts it.
func (s *TaskService) CreateBackup(ctx context.Context, req *domain.CreateBackupRequest) (*domain.Task, error) {
	r := *req
	return s.create(ctx, domain.TaskKindBackup, r.Device, r.Location, func(ctx context.Context, at *activeTask) domain.TaskOutcome {
		return s.runBackup(ctx, at, r)
	})
}

// CreateRestore registers a restore task and starts it.
func (s *TaskService) CreateRestore(ctx context.Context, req *domain.CreateRestoreRequest) (*domain.Task, error) {
	r := *req
	return s.create(ctx, domain.TaskKindRestore, r.Device, r.Location, func(ctx context.Context, at *activeTask) domain.TaskOutcome {
		return s.runRestore(ctx, at, r)
	})
}

// CreateInstall registers an install task and starts it.
func (s *TaskService) CreateInstall(ctx context.Context, req *domain.CreateInstallRequest) (*domain.Task, error) {
	r := *req
	return s.create(ctx, domain.TaskKindInstall, r.Device, r.Location, func(ctx context.Context, at *activeTask) domain.TaskOutcome {
		return s.runInstall(ctx, at, r)
	})
}

func (s *TaskService) create(ctx context.Context, kind domain.TaskKind, device, location string, run runFunc) (*domain.Task, error) {
	now := time.Now()
	task := &domain.Task{
		ID:        uuid.New(),
		Kind:      kind,
		Device:    device,
		Location:  location,
		Status:    domain.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	at := newActiveTask(task.ID, kind, run, s.opts)
	s.mu.Lock()
	s.active[task.ID] = at
	s.mu.Unlock()

	ev := domain.TaskEvent{
		Type:   domain.EventCreateTask,
		TaskID: task.ID,
		Task:   task.Clone(),
		Done:   make(chan struct{}),
	}
	if err := s.sendEvent(ctx, ev); err != nil {
		s.forget(at)
		return nil, err
	}

	metrics.TasksCreated.WithLabelValues(string(kind)).Inc()
	s.logger.Info("task created",
		"task_id", task.ID,
		"kind", kind,
		"device", device,
	)
	return task, nil
}

// GetTask returns the stored record of a task.
func (s *TaskService) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.taskRepo.GetTask(ctx, id)
}

// ListTasks returns all stored records, oldest first.
func (s *TaskService) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return s.taskRepo.ListTasks(ctx)
}

// CancelTask requests cancellation of a pending or running task. It returns without
// waiting; the task reaches its terminal status asynchronously.
func (s *TaskService) CancelTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	at, ok := s.active[id]
	s.mu.Unlock()

	if ok {
		s.logger.Info("task cancellation requested", "task_id", id)
		at.cancel()
		return nil
	}

	if _, err := s.taskRepo.GetTask(ctx, id); err != nil {
		return err
	}
	return errpkg.ErrTaskFinished
}

// Watch subscribes to throttled progress snapshots of a running task. The channel
// is closed when the task finishes.
func (s *TaskService) Watch(id uuid.UUID) (<-chan domain.Progress, func(), error) {
	s.mu.Lock()
	at, ok := s.active[id]
	s.mu.Unlock()

	if !ok {
		if _, err := s.taskRepo.GetTask(context.Background(), id); err != nil {
			return nil, nil, err
		}
		return nil, nil, errpkg.ErrTaskFinished
	}
	ch, unsubscribe := at.agg.Subscribe()
	return ch, unsubscribe, nil
}

// Wait blocks until the task has finished and its final state is stored.
func (s *TaskService) Wait(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	at, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		_, err := s.taskRepo.GetTask(ctx, id)
		return err
	}

	select {
	case <-at.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterruptedTasks marks tasks left pending or running by a previous process
// as cancelled. External processes and transfers do not survive a restart.
func (s *TaskService) RecoverInterruptedTasks(ctx context.Context) error {
	pending, err := s.taskRepo.GetTasksByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}
	inProgress, err := s.taskRepo.GetTasksByStatus(ctx, domain.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to get in-progress tasks: %w", err)
	}

	for _, task := range append(pending, inProgress...) {
		s.mu.Lock()
		_, live := s.active[task.ID]
		s.mu.Unlock()
		if live {
			continue
		}

		status := domain.TaskStatusCancelled
		outcome := domain.Cancelled()
		outcome.Message = "interrupted by restart"
		err := s.sendEvent(ctx, domain.TaskEvent{
			Type:   domain.EventUpdateTask,
			TaskID: task.ID,
			Updates: &domain.TaskUpdate{
				Status:  &status,
				Outcome: &outcome,
				Logs:    append(task.Logs, domain.LogEntry{Time: time.Now(), Text: "Interrupted by restart.", IsError: true}),
			},
			Done: make(chan struct{}),
		})
		if err != nil {
			return fmt.Errorf("failed to recover task %s: %w", task.ID, err)
		}
		s.logger.Warn("interrupted task marked cancelled", "task_id", task.ID, "kind", task.Kind)
	}
	return nil
}

func (s *TaskService) sendEvent(ctx context.Context, ev domain.TaskEvent) error {
	select {
	case s.eventChan <- ev:
	case <-s.shutdownChan:
		return fmt.Errorf("service is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}

	if ev.Done == nil {
		return nil
	}
	select {
	case <-ev.Done:
		return nil
	case <-s.shutdownChan:
		return fmt.Errorf("service is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskService) eventProcessor() {
	defer s.processorWG.Done()

	for {
		select {
		case event := <-s.eventChan:
			s.apply(event)
		case <-s.shutdownChan:
			for {
				select {
				case event := <-s.eventChan:
					s.apply(event)
				default:
					return
				}
			}
		}
	}
}

func (s *TaskService) apply(event domain.TaskEvent) {
	if event.Done != nil {
		defer close(event.Done)
	}
	ctx := context.Background()

	switch event.Type {
	case domain.EventCreateTask:
		if err := s.taskRepo.CreateTask(ctx, event.Task); err != nil {
			s.logger.Error("failed to save task",
				"error", err,
				"task_id", event.TaskID,
			)
			s.mu.Lock()
			at := s.active[event.TaskID]
			s.mu.Unlock()
			if at != nil {
				s.forget(at)
			}
			return
		}
		s.logger.Debug("task saved to storage", "task_id", event.TaskID)

		s.mu.Lock()
		at := s.active[event.TaskID]
		s.mu.Unlock()
		if at != nil {
			s.runWG.Add(1)
			go s.execute(at)
		}

	case domain.EventUpdateTask:
		task, err := s.taskRepo.GetTask(ctx, event.TaskID)
		if err != nil {
			s.logger.Error("failed to get task for update",
				"error", err,
				"task_id", event.TaskID,
			)
			return
		}

		applyUpdate(task, event.Updates)

		if err := s.taskRepo.UpdateTask(ctx, task); err != nil {
			s.logger.Error("failed to save task update",
				"error", err,
				"task_id", event.TaskID,
				"status", task.Status,
			)
			return
		}
		s.logger.Debug("task state updated",
			"task_id", event.TaskID,
			"status", task.Status,
		)
	}
}

func applyUpdate(task *domain.Task, u *domain.TaskUpdate) {
	if u == nil {
		return
	}
	if u.Status != nil {
		task.Status = *u.Status
	}
	if u.Items != nil {
		task.Items = u.Items
	}
	if u.Progress != nil {
		task.Progress = *u.Progress
	}
	if u.Outcome != nil {
		o := *u.Outcome
		task.Outcome = &o
	}
	if u.Logs != nil {
		task.Logs = u.Logs
	}
}

func (s *TaskService) forget(at *activeTask) {
	s.mu.Lock()
	if s.active[at.id] == at {
		delete(s.active, at.id)
	}
	s.mu.Unlock()
	at.finish()
}

// Shutdown cancels running tasks, waits up to the grace period for them to store
// their final state, then stops the event processor.
func (s *TaskService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down task service")

	s.mu.Lock()
	for _, at := range s.active {
		at.cancel()
	}
	s.mu.Unlock()

	grace := s.opts.CancelGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	runsDone := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(runsDone)
	}()

	var err error
	select {
	case <-runsDone:
	case <-graceCtx.Done():
		s.logger.Warn("tasks did not stop within grace period")
		err = graceCtx.Err()
	}

	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.processorWG.Wait()

	if err == nil {
		s.logger.Info("task service shutdown completed")
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("tasks still running after %s: %w", grace, err)
	}
	return err
}
