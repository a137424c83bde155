package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

const (
	eventsWriteTimeout = 10 * time.Second
	eventsFinalTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TaskEvents handles GET /tasks/{taskID}/events. Each throttled progress
// notification is sent as a task JSON message; the final state closes the stream.
func (h *TaskHandler) TaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	updates, unsubscribe, err := h.taskService.Watch(taskID)
	if err != nil && !errors.Is(err, errpkg.ErrTaskFinished) {
		h.writeServiceError(w, taskID, err)
		return
	}
	if unsubscribe != nil {
		defer unsubscribe()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drain client frames so close and ping control messages are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("event stream read error", "task_id", taskID, "error", err)
				}
				return
			}
		}
	}()

	h.logger.Info("event stream opened", "task_id", taskID)

	for updates != nil {
		select {
		case p, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := h.sendTask(ctx, conn, taskID, &p); err != nil {
				h.logger.Debug("event stream closed by client", "task_id", taskID, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, eventsFinalTimeout)
	defer waitCancel()
	if err := h.taskService.Wait(waitCtx, taskID); err != nil {
		h.logger.Warn("task did not settle before stream close", "task_id", taskID, "error", err)
	}
	if err := h.sendTask(ctx, conn, taskID, nil); err != nil {
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
		time.Now().Add(eventsWriteTimeout))
	h.logger.Info("event stream finished", "task_id", taskID)
}

// sendTask writes the stored task, with progress replaced by p when given.
func (h *TaskHandler) sendTask(ctx context.Context, conn *websocket.Conn, taskID uuid.UUID, p *domain.Progress) error {
	task, err := h.taskService.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	response := domain.NewTaskResponse(task)
	if p != nil {
		response.Progress = *p
		response.Fraction = p.Fraction()
	}

	conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(response)
}
