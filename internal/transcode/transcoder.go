// Package transcode extracts a compact audio track from an in-memory video
// using the shared media engine.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"upload-ai/internal/domain"
	"upload-ai/internal/engine"
)

// Fixed virtual file names used by the pipeline.
const (
	SourceFileName = "input.mp4"
	TargetFileName = "output.mp3"
	// AudioFileName is the name the artifact is uploaded under.
	AudioFileName = "audio.mp3"
)

// Conversion steps reported in ConversionError.Step.
const (
	StepWrite     = "write"
	StepTransform = "transform"
	StepRead      = "read"
)

// EngineLoadError means the engine's runtime assets could not be loaded.
// It is fatal: no conversion can run on the handle that produced it.
type EngineLoadError struct {
	Err error
}

// Error formats engine load failures for logs and UI.
func (e *EngineLoadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("load media engine: %v", e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *EngineLoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConversionError is a step-aware conversion failure with optional engine log.
type ConversionError struct {
	Step       string            `json:"step"`
	Message    string            `json:"message"`
	CommandLog engine.CommandLog `json:"commandLog"`
	Err        error             `json:"-"`
}

// Error formats conversion failures for logs and UI.
func (e *ConversionError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Engine == "" {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (engine=%s exit=%d)",
		e.Step,
		e.Message,
		e.CommandLog.Engine,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ConversionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// EngineSource hands out the shared engine instance.
type EngineSource interface {
	Get(ctx context.Context) (engine.Engine, error)
}

// Transcoder converts one video at a time. Calls are serialized because the
// engine and its filesystem are shared by every run in the process.
type Transcoder struct {
	engines EngineSource
	mu      sync.Mutex
}

// New builds a transcoder over a shared engine handle.
func New(engines EngineSource) *Transcoder {
	return &Transcoder{engines: engines}
}

// Initialize acquires the engine, loading it on first use.
func (t *Transcoder) Initialize(ctx context.Context) (engine.Engine, error) {
	eng, err := t.engines.Get(ctx)
	if err != nil {
		return nil, &EngineLoadError{Err: err}
	}
	return eng, nil
}

// Convert writes video into the engine filesystem as sourceName, extracts
// the first audio stream as 20 kbit/s MP3 into targetName, and returns it.
// onProgress receives a non-decreasing ratio in [0,1]; it may be nil.
func (t *Transcoder) Convert(
	ctx context.Context,
	video []byte,
	sourceName string,
	targetName string,
	onProgress func(float64),
) (domain.AudioArtifact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	eng, err := t.Initialize(ctx)
	if err != nil {
		return domain.AudioArtifact{}, err
	}

	log.Printf("[transcode] convert started (%d bytes, engine=%s)", len(video), eng.Name())

	if err := eng.WriteFile(sourceName, video); err != nil {
		return domain.AudioArtifact{}, &ConversionError{
			Step:    StepWrite,
			Message: fmt.Sprintf("cannot write %s to engine filesystem", sourceName),
			Err:     err,
		}
	}
	defer removeQuietly(eng, sourceName)
	defer removeQuietly(eng, targetName)

	args := BuildArgs(sourceName, targetName)
	if err := eng.Exec(ctx, args, onProgress); err != nil {
		convErr := &ConversionError{
			Step:    StepTransform,
			Message: "audio extraction failed",
			Err:     err,
		}
		var execErr *engine.ExecError
		if errors.As(err, &execErr) {
			convErr.CommandLog = execErr.Log
		}
		return domain.AudioArtifact{}, convErr
	}

	data, err := eng.ReadFile(targetName)
	if err != nil {
		return domain.AudioArtifact{}, &ConversionError{
			Step:    StepRead,
			Message: fmt.Sprintf("cannot read %s from engine filesystem", targetName),
			Err:     err,
		}
	}
	if len(data) == 0 {
		return domain.AudioArtifact{}, &ConversionError{
			Step:    StepRead,
			Message: fmt.Sprintf("engine produced an empty %s", targetName),
		}
	}

	log.Printf("[transcode] convert finished (%d bytes)", len(data))
	return domain.AudioArtifact{
		Name:      AudioFileName,
		MediaType: domain.AudioMediaType,
		Data:      data,
	}, nil
}

// BuildArgs selects the first audio stream and encodes it as 20k MP3.
func BuildArgs(sourceName, targetName string) []string {
	return []string{
		"-i", sourceName,
		"-map", "0:a",
		"-b:a", "20k",
		"-acodec", "libmp3lame",
		targetName,
	}
}

func removeQuietly(eng engine.Engine, name string) {
	if err := eng.Remove(name); err != nil {
		log.Printf("[transcode] remove %s: %v", name, err)
	}
}
