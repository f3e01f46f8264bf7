package pipeline

import (
	"errors"
	"fmt"

	"upload-ai/internal/domain"
)

var (
	// ErrNoSelection is returned by Submit before any video was selected.
	ErrNoSelection = errors.New("no video selected")
	// ErrRunInProgress is returned by Submit while a run is not idle.
	ErrRunInProgress = errors.New("pipeline run already in progress")
	// ErrRunFinished is returned by Submit after a run reached done and no
	// new selection was made.
	ErrRunFinished = errors.New("pipeline run already finished; select a video to start again")
	// ErrRunSuperseded accompanies the id of a run that completed after a
	// newer selection replaced it.
	ErrRunSuperseded = errors.New("pipeline run superseded by a newer selection")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline controller closed")
)

// PipelineError is a stage-aware run failure.
type PipelineError struct {
	Stage   domain.PipelineState `json:"stage"`
	Message string               `json:"message"`
	Err     error                `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
