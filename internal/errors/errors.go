package errors

import "errors"

var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrStateFileMissing = errors.New("state file missing")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskFinished     = errors.New("task already finished")

	ErrCancelled          = errors.New("cancelled")
	ErrLookupFailed       = errors.New("failed to fetch item info")
	ErrDownloadExhausted  = errors.New("download retry budget exhausted")
	ErrHashMismatch       = errors.New("file hash mismatch")
	ErrFinalizeFailed     = errors.New("finalize failed")
	ErrProcessNonZeroExit = errors.New("process exited with non-zero code")
	ErrProcessTerminated  = errors.New("process terminated by request")
	ErrProcessSpawn       = errors.New("failed to spawn process")

	ErrNotFound = errors.New("not found")
)
