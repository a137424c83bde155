package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

// TaskStorage keeps task records in memory and mirrors them to a JSON state file.
// Callers always get copies; a stored record is only replaced through UpdateTask.
type TaskStorage struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	tasks  map[uuid.UUID]*domain.Task
	file   string
}

// NewTaskStorage creates a TaskStorage and loads records from the file if it exists.
func NewTaskStorage(filePath string) (*TaskStorage, error) {
	repo := &TaskStorage{
		tasks: make(map[uuid.UUID]*domain.Task),
		file:  filepath.Clean(filePath),
	}

	if err := repo.restoreTasks(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("task repository initialized", "file_path", repo.file, "tasks_count", len(repo.tasks))
	return repo, nil
}

func (r *TaskStorage) restoreTasks() error {
	data, err := os.ReadFile(r.file)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("state file does not exist, starting with empty state", "file_path", r.file)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		slog.Warn("state file is empty", "file_path", r.file)
		return nil
	}

	var tasks []*domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	for _, task := range tasks {
		r.tasks[task.ID] = task
	}
	return nil
}

// persistTasks writes every record through a temp file and rename.
func (r *TaskStorage) persistTasks() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	tasks := make([]*domain.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	data, err := json.MarshalIndent(sortByCreation(tasks), "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("state saved to file", "tasks_count", len(tasks), "file_path", r.file)
	return nil
}

// CreateTask adds a new record and persists the state.
func (r *TaskStorage) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.tasks[task.ID] = task.Clone()
	r.mu.Unlock()

	if err := r.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after creating task: %w", err)
	}
	return nil
}

// GetTask returns a copy of the record with the given id.
func (r *TaskStorage) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return nil, errpkg.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// UpdateTask replaces a record, stamps UpdatedAt and persists the state.
func (r *TaskStorage) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.tasks[task.ID]; !exists {
		r.mu.Unlock()
		return errpkg.ErrTaskNotFound
	}
	task.UpdatedAt = time.Now()
	r.tasks[task.ID] = task.Clone()
	r.mu.Unlock()

	if err := r.persistTasks(); err != nil {
		return fmt.Errorf("failed to save state after updating task: %w", err)
	}
	return nil
}

// ListTasks returns copies of all records, oldest first.
func (r *TaskStorage) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return r.filter(ctx, func(*domain.Task) bool { return true })
}

// GetTasksByStatus returns copies of the records in the given status, oldest first.
func (r *TaskStorage) GetTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	return r.filter(ctx, func(t *domain.Task) bool { return t.Status == status })
}

func (r *TaskStorage) filter(ctx context.Context, keep func(*domain.Task) bool) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var out []*domain.Task
	for _, task := range r.tasks {
		if keep(task) {
			out = append(out, task.Clone())
		}
	}
	r.mu.RUnlock()

	return sortByCreation(out), nil
}

func sortByCreation(tasks []*domain.Task) []*domain.Task {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID.String() < tasks[j].ID.String()
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}
