package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
	"github.com/veranemoloko/mobile-transfer/internal/validation"
)

// TaskServiceI defines the interface for task-related business logic.
type TaskServiceI interface {
	CreateBackup(ctx context.Context, req *domain.CreateBackupRequest) (*domain.Task, error)
	CreateRestore(ctx context.Context, req *domain.CreateRestoreRequest) (*domain.Task, error)
	CreateInstall(ctx context.Context, req *domain.CreateInstallRequest) (*domain.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	CancelTask(ctx context.Context, id uuid.UUID) error
	Watch(id uuid.UUID) (<-chan domain.Progress, func(), error)
	Wait(ctx context.Context, id uuid.UUID) error
}

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	taskService TaskServiceI
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler with the provided service and logger.
func NewTaskHandler(taskService TaskServiceI, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// CreateBackup handles POST /tasks/backup.
func (h *TaskHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBackupRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.taskService.CreateBackup(r.Context(), &req)
	h.respondCreated(w, task, err)
}

// CreateRestore handles POST /tasks/restore.
func (h *TaskHandler) CreateRestore(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRestoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.taskService.CreateRestore(r.Context(), &req)
	h.respondCreated(w, task, err)
}

// CreateInstall handles POST /tasks/install.
func (h *TaskHandler) CreateInstall(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateInstallRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.taskService.CreateInstall(r.Context(), &req)
	h.respondCreated(w, task, err)
}

// GetTask handles the HTTP GET /tasks/{taskID} request to fetch a task by ID.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeServiceError(w, taskID, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, domain.NewTaskResponse(task))
}

// ListTasks handles GET /tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskService.ListTasks(r.Context())
	if err != nil {
		h.logger.Error("failed to list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]domain.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		response = append(response, domain.NewTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, response)
}

// CancelTask handles POST /tasks/{taskID}/cancel. Cancellation is asynchronous.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := h.taskService.CancelTask(r.Context(), taskID); err != nil {
		h.writeServiceError(w, taskID, err)
		return
	}

	h.logger.Info("task cancel accepted", "task_id", taskID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id": taskID,
		"status":  "cancelling",
	})
}

func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := validation.ValidateRequest(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *TaskHandler) respondCreated(w http.ResponseWriter, task *domain.Task, err error) {
	if err != nil {
		h.logger.Error("failed to create task", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("task created", "task_id", task.ID, "kind", task.Kind)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id": task.ID,
	})
}

func (h *TaskHandler) writeServiceError(w http.ResponseWriter, taskID uuid.UUID, err error) {
	switch {
	case errors.Is(err, errpkg.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, errpkg.ErrTaskFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("task request failed", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
