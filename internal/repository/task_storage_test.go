package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

func TestTaskStorage_CRUD(t *testing.T) {
	file := t.TempDir() + "/tasks.json"
	repo, err := NewTaskStorage(file)
	require.NoError(t, err)

	task := &domain.Task{
		ID:       uuid.New(),
		Kind:     domain.TaskKindBackup,
		Device:   "00008030-001A2D3C0E2B802E",
		Status:   domain.TaskStatusPending,
		Progress: domain.NewProgress(0, 200),
	}

	err = repo.CreateTask(context.Background(), task)
	assert.NoError(t, err)

	got, err := repo.GetTask(context.Background(), task.ID)
	assert.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, int64(200), got.Progress.Total)

	task.Status = domain.TaskStatusCompleted
	err = repo.UpdateTask(context.Background(), task)
	assert.NoError(t, err)

	got2, err := repo.GetTask(context.Background(), task.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, got2.Status)
	assert.False(t, got2.UpdatedAt.IsZero())
}

func TestTaskStorage_ReturnsCopies(t *testing.T) {
	repo, err := NewTaskStorage(t.TempDir() + "/tasks.json")
	require.NoError(t, err)

	task := &domain.Task{ID: uuid.New(), Status: domain.TaskStatusPending, Logs: []domain.LogEntry{{Text: "a"}}}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	task.Logs[0].Text = "mutated"
	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Logs[0].Text)

	got.Status = domain.TaskStatusFailed
	again, _ := repo.GetTask(context.Background(), task.ID)
	assert.Equal(t, domain.TaskStatusPending, again.Status)
}

func TestTaskStorage_NotFound(t *testing.T) {
	repo, err := NewTaskStorage(t.TempDir() + "/tasks.json")
	require.NoError(t, err)

	_, err = repo.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrTaskNotFound)

	err = repo.UpdateTask(context.Background(), &domain.Task{ID: uuid.New()})
	assert.ErrorIs(t, err, errpkg.ErrTaskNotFound)
}

func TestTaskStorage_GetTasksByStatus(t *testing.T) {
	file := t.TempDir() + "/tasks.json"
	repo, err := NewTaskStorage(file)
	assert.NoError(t, err)

	task1 := &domain.Task{ID: uuid.New(), Status: domain.TaskStatusInProgress}
	task2 := &domain.Task{ID: uuid.New(), Status: domain.TaskStatusCompleted}

	_ = repo.CreateTask(context.Background(), task1)
	_ = repo.CreateTask(context.Background(), task2)

	running, err := repo.GetTasksByStatus(context.Background(), domain.TaskStatusInProgress)
	assert.NoError(t, err)
	assert.Len(t, running, 1)
	assert.Equal(t, task1.ID, running[0].ID)

	completed, err := repo.GetTasksByStatus(context.Background(), domain.TaskStatusCompleted)
	assert.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Equal(t, task2.ID, completed[0].ID)
}

func TestTaskStorage_ReloadFromFile(t *testing.T) {
	file := t.TempDir() + "/tasks.json"
	repo, err := NewTaskStorage(file)
	require.NoError(t, err)

	now := time.Now()
	older := &domain.Task{ID: uuid.New(), Kind: domain.TaskKindInstall, Status: domain.TaskStatusFailed, CreatedAt: now.Add(-time.Hour)}
	newer := &domain.Task{ID: uuid.New(), Kind: domain.TaskKindRestore, Status: domain.TaskStatusPending, CreatedAt: now}
	require.NoError(t, repo.CreateTask(context.Background(), newer))
	require.NoError(t, repo.CreateTask(context.Background(), older))

	_, err = os.Stat(file + ".tmp")
	assert.True(t, os.IsNotExist(err))

	reloaded, err := NewTaskStorage(file)
	require.NoError(t, err)

	all, err := reloaded.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID)
	assert.Equal(t, domain.TaskKindRestore, all[1].Kind)
}

func TestTaskStorage_CancelledContext(t *testing.T) {
	repo, err := NewTaskStorage(t.TempDir() + "/tasks.json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, repo.CreateTask(ctx, &domain.Task{ID: uuid.New()}))
	_, err = repo.ListTasks(ctx)
	assert.Error(t, err)
}
