package domain

import (
	"fmt"

	errpkg "github.com/veranemoloko/mobile-transfer/internal/errors"
)

// OutcomeKind is the terminal state of a single work item.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// FailureReason names why an item failed.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonLookupFailed       FailureReason = "lookup_failed"
	ReasonDownloadExhausted  FailureReason = "download_exhausted"
	ReasonHashMismatch       FailureReason = "hash_mismatch"
	ReasonFinalizeFailed     FailureReason = "finalize_failed"
	ReasonProcessNonZeroExit FailureReason = "process_non_zero_exit"
	ReasonProcessTerminated  FailureReason = "process_terminated"
	ReasonProcessSpawnFailed FailureReason = "process_spawn_failed"
	ReasonInternal           FailureReason = "internal_error"
)

var reasonErrors = map[FailureReason]error{
	ReasonLookupFailed:       errpkg.ErrLookupFailed,
	ReasonDownloadExhausted:  errpkg.ErrDownloadExhausted,
	ReasonHashMismatch:       errpkg.ErrHashMismatch,
	ReasonFinalizeFailed:     errpkg.ErrFinalizeFailed,
	ReasonProcessNonZeroExit: errpkg.ErrProcessNonZeroExit,
	ReasonProcessTerminated:  errpkg.ErrProcessTerminated,
	ReasonProcessSpawnFailed: errpkg.ErrProcessSpawn,
}

// TaskOutcome is written once per work item and never mutated afterwards.
type TaskOutcome struct {
	Kind    OutcomeKind   `json:"kind"`
	Reason  FailureReason `json:"reason,omitempty"`
	Message string        `json:"message,omitempty"`
}

func Success() TaskOutcome {
	return TaskOutcome{Kind: OutcomeSuccess}
}

func Cancelled() TaskOutcome {
	return TaskOutcome{Kind: OutcomeCancelled, Message: errpkg.ErrCancelled.Error()}
}

// Failed builds a failure outcome. A nil cause yields the reason's default message.
func Failed(reason FailureReason, cause error) TaskOutcome {
	out := TaskOutcome{Kind: OutcomeFailed, Reason: reason}
	if cause != nil {
		out.Message = cause.Error()
	} else if sentinel, ok := reasonErrors[reason]; ok {
		out.Message = sentinel.Error()
	}
	return out
}

func (o TaskOutcome) IsSuccess() bool   { return o.Kind == OutcomeSuccess }
func (o TaskOutcome) IsCancelled() bool { return o.Kind == OutcomeCancelled }
func (o TaskOutcome) IsFailed() bool    { return o.Kind == OutcomeFailed }

// Err returns nil for success, otherwise an error wrapping the matching sentinel.
func (o TaskOutcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelled:
		return errpkg.ErrCancelled
	}
	sentinel, ok := reasonErrors[o.Reason]
	if !ok {
		return fmt.Errorf("failed: %s", o.Message)
	}
	if o.Message == "" || o.Message == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, o.Message)
}

func (o TaskOutcome) String() string {
	if o.Kind == OutcomeFailed {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	}
	return string(o.Kind)
}
