package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// TaskRepo defines the interface for task record storage.
type TaskRepo interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	GetTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)
}
