package domain

import (
	"time"

	"github.com/google/uuid"
)

// RestoreMode selects how restored data merges with what is on the device.
type RestoreMode string

const (
	RestoreModeReplace                 RestoreMode = "replace"
	RestoreModeMerge                   RestoreMode = "merge"
	RestoreModeMergeWithoutApplication RestoreMode = "merge_without_apps"
)

// CreateBackupRequest represents the request body for starting a backup.
type CreateBackupRequest struct {
	Device          string     `json:"device" validate:"required,udid"`
	Location        string     `json:"location" validate:"required"`
	UseNetwork      bool       `json:"use_network"`
	BackupApps      bool       `json:"backup_apps"`
	AllowedAccounts []string   `json:"allowed_accounts" validate:"omitempty,dive,email"`
	Apps            []WorkItem `json:"apps" validate:"omitempty,dive"`
}

// CreateRestoreRequest represents the request body for starting a restore.
type CreateRestoreRequest struct {
	Device     string      `json:"device" validate:"required,udid"`
	Location   string      `json:"location" validate:"required"`
	UseNetwork bool        `json:"use_network"`
	Mode       RestoreMode `json:"mode" validate:"required,oneof=replace merge merge_without_apps"`
	Password   string      `json:"password"`
}

// CreateInstallRequest represents the request body for installing archived applications.
type CreateInstallRequest struct {
	Device   string `json:"device" validate:"required,udid"`
	Location string `json:"location" validate:"required"`
}

// TaskResponse represents the response returned for a Task.
type TaskResponse struct {
	ID        uuid.UUID    `json:"task_id"`
	Kind      TaskKind     `json:"kind"`
	Status    TaskStatus   `json:"status"`
	Progress  Progress     `json:"progress"`
	Fraction  float64      `json:"fraction"`
	Items     []ItemRecord `json:"items,omitempty"`
	Outcome   *TaskOutcome `json:"outcome,omitempty"`
	Logs      []LogEntry   `json:"logs,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewTaskResponse builds the API view of a task.
func NewTaskResponse(t *Task) TaskResponse {
	return TaskResponse{
		ID:        t.ID,
		Kind:      t.Kind,
		Status:    t.Status,
		Progress:  t.Progress,
		Fraction:  t.Progress.Fraction(),
		Items:     t.Items,
		Outcome:   t.Outcome,
		Logs:      t.Logs,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
