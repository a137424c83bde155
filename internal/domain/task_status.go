package domain

// TaskStatus represents the current state of a Task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ItemStatus represents the current state of a single item inside a task.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusRunning   ItemStatus = "running"
	ItemStatusSucceeded ItemStatus = "succeeded"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusCancelled ItemStatus = "cancelled"
)

// ItemStatusFor maps a terminal outcome to its item status.
func ItemStatusFor(o TaskOutcome) ItemStatus {
	switch o.Kind {
	case OutcomeSuccess:
		return ItemStatusSucceeded
	case OutcomeCancelled:
		return ItemStatusCancelled
	}
	return ItemStatusFailed
}
