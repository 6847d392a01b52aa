package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the capture/record/encode cycle
var (
	ErrNoDeviceSelected  = errors.New("no audio input device selected")
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrPermissionDenied  = errors.New("permission to use audio input denied")
	ErrDecodeFailure     = errors.New("capture could not be decoded")
	ErrEncodeFailure     = errors.New("wav encode failed")

	ErrSessionActive = errors.New("a recording session is already active")
	ErrNotRecording  = errors.New("no recording in progress")
)

// StageError represents a failure inside one stage of the capture pipeline
type StageError struct {
	Stage string // "capture", "filter", "tap", "sink", "codec", "wav"
	Op    string // "acquire", "build", "close", "decode", "encode"
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s failed", e.Stage, e.Op)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Stage, e.Op, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a StageError
func NewStageError(stage, op string, cause error) *StageError {
	return &StageError{
		Stage: stage,
		Op:    op,
		Cause: cause,
	}
}

// IsDeviceError reports whether err should be surfaced as a session-start failure.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNoDeviceSelected)
}
