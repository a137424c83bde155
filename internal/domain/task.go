package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind is the top-level operation a task performs.
type TaskKind string

const (
	TaskKindBackup  TaskKind = "backup"
	TaskKindRestore TaskKind = "restore"
	TaskKindInstall TaskKind = "install"
)

// Task is the persisted record of a top-level backup, restore or install.
type Task struct {
	ID        uuid.UUID    `json:"id"`
	Kind      TaskKind     `json:"kind"`
	Device    string       `json:"device"`
	Location  string       `json:"location"`
	Status    TaskStatus   `json:"status"`
	Items     []ItemRecord `json:"items,omitempty"`
	Progress  Progress     `json:"progress"`
	Outcome   *TaskOutcome `json:"outcome,omitempty"`
	Logs      []LogEntry   `json:"logs,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ItemRecord is the per-item view kept on a task.
type ItemRecord struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	Version  string       `json:"version,omitempty"`
	Avatar   string       `json:"avatar,omitempty"`
	Status   ItemStatus   `json:"status"`
	Progress float64      `json:"progress"`
	Speed    int64        `json:"speed"`
	Outcome  *TaskOutcome `json:"outcome,omitempty"`
}

// LogEntry is one line of task output history.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Text    string    `json:"text"`
	IsError bool      `json:"is_error,omitempty"`
}

// TaskEvent is handed to the task coordinator, which alone mutates task records.
type TaskEvent struct {
	Type    EventType
	TaskID  uuid.UUID
	Task    *Task
	Updates *TaskUpdate
	// Done, if set, is closed once the event has been applied.
	Done chan struct{}
}

type EventType string

const (
	EventCreateTask EventType = "create"
	EventUpdateTask EventType = "update"
)

// TaskUpdate carries the fields an event changes. Nil fields are left alone.
type TaskUpdate struct {
	Status   *TaskStatus
	Items    []ItemRecord
	Progress *Progress
	Outcome  *TaskOutcome
	Logs     []LogEntry
}

// Clone returns a deep copy that shares no slices or pointers with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Items != nil {
		cp.Items = make([]ItemRecord, len(t.Items))
		for i, it := range t.Items {
			if it.Outcome != nil {
				o := *it.Outcome
				it.Outcome = &o
			}
			cp.Items[i] = it
		}
	}
	if t.Outcome != nil {
		o := *t.Outcome
		cp.Outcome = &o
	}
	if t.Logs != nil {
		cp.Logs = append([]LogEntry(nil), t.Logs...)
	}
	return &cp
}
