// Package pipeline sequences one upload run: convert the selected video to
// audio, upload it, request its transcription, and report the remote id.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"upload-ai/internal/domain"
	"upload-ai/internal/transcode"
)

// Converter extracts the audio track from a video.
type Converter interface {
	Convert(ctx context.Context, video []byte, sourceName, targetName string, onProgress func(float64)) (domain.AudioArtifact, error)
}

// Uploader is the remote side of a run.
type Uploader interface {
	UploadAudio(ctx context.Context, audio domain.AudioArtifact) (string, error)
	RequestTranscription(ctx context.Context, videoID, prompt string) error
}

// Previewer mints and releases preview references for selections.
type Previewer interface {
	Create(sel domain.VideoSelection) (string, error)
	Release(ref string)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run domain.Run) error
}

// Options wires a Controller. Converter and Uploader are required.
type Options struct {
	Converter Converter
	Uploader  Uploader
	Previewer Previewer
	History   RunRecorder
	Events    *EventBus
	// OnVideoUpload is called once per run that reaches done while it is
	// still the current run.
	OnVideoUpload func(videoID string)
	now           func() time.Time
	newRunID      func() string
}

// Controller owns the pipeline state and runs at most one submit at a time.
type Controller struct {
	converter     Converter
	uploader      Uploader
	previewer     Previewer
	history       RunRecorder
	events        *EventBus
	onVideoUpload func(string)
	now           func() time.Time
	newRunID      func() string

	mu         sync.Mutex
	machine    *Machine
	selection  *domain.VideoSelection
	previewRef string
	generation uint64
	closed     bool
}

// NewController builds a controller in idle state with no selection.
func NewController(opts Options) (*Controller, error) {
	if opts.Converter == nil {
		return nil, fmt.Errorf("pipeline: converter is required")
	}
	if opts.Uploader == nil {
		return nil, fmt.Errorf("pipeline: uploader is required")
	}
	if opts.Events == nil {
		opts.Events = NewEventBus(0)
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newRunID == nil {
		opts.newRunID = uuid.NewString
	}

	return &Controller{
		converter:     opts.Converter,
		uploader:      opts.Uploader,
		previewer:     opts.Previewer,
		history:       opts.History,
		events:        opts.Events,
		onVideoUpload: opts.OnVideoUpload,
		now:           opts.now,
		newRunID:      opts.newRunID,
		machine:       NewMachine(),
	}, nil
}

// SelectVideo replaces the current selection, resets the state to idle and
// returns a fresh preview reference. The previous reference is released
// first. A run still in flight keeps going but is no longer observed.
func (c *Controller) SelectVideo(sel domain.VideoSelection) (string, error) {
	if len(sel.Data) == 0 {
		return "", fmt.Errorf("selected video %q is empty", sel.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}

	if c.previewRef != "" && c.previewer != nil {
		c.previewer.Release(c.previewRef)
	}
	c.previewRef = ""

	stored := sel
	c.selection = &stored
	c.generation++
	if c.machine.IsRunning() {
		log.Printf("[pipeline] run %s superseded by new selection %q", c.machine.RunID(), sel.Name)
	}
	c.machine.Reset()

	ref := ""
	if c.previewer != nil {
		var err error
		ref, err = c.previewer.Create(stored)
		if err != nil {
			log.Printf("[pipeline] preview unavailable for %q: %v", sel.Name, err)
			ref = ""
		}
	}
	c.previewRef = ref

	c.events.Publish(Event{
		Type:       EventTypeSelection,
		State:      domain.StateIdle,
		Message:    sel.Name,
		PreviewRef: ref,
	})
	return ref, nil
}

// Submit runs convert, upload, and transcription request for the current
// selection. It returns ErrNoSelection, ErrRunInProgress, or ErrRunFinished
// without any effect when the precondition does not hold. A stage failure
// resets the state to idle and returns a *PipelineError. When a newer
// selection replaced this run before it finished, Submit returns the id
// together with ErrRunSuperseded and the callback is not invoked.
func (c *Controller) Submit(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.selection == nil {
		c.mu.Unlock()
		return "", ErrNoSelection
	}
	switch c.machine.Current() {
	case domain.StateIdle:
	case domain.StateDone:
		c.mu.Unlock()
		return "", ErrRunFinished
	default:
		c.mu.Unlock()
		return "", ErrRunInProgress
	}

	runID := c.newRunID()
	if err := c.machine.Begin(runID); err != nil {
		c.mu.Unlock()
		return "", err
	}
	gen := c.generation
	sel := *c.selection
	c.publishStatus(runID, domain.StateConverting)
	c.mu.Unlock()

	run := domain.Run{
		ID:        runID,
		VideoName: sel.Name,
		Prompt:    prompt,
		StartedAt: c.now().UTC(),
	}
	log.Printf("[pipeline] run %s started for %q", runID, sel.Name)

	audio, err := c.converter.Convert(ctx, sel.Data, transcode.SourceFileName, transcode.TargetFileName, func(ratio float64) {
		c.publishProgress(gen, runID, ratio)
	})
	if err != nil {
		return "", c.fail(ctx, gen, &run, domain.StateConverting, "audio conversion failed", err)
	}

	if !c.advance(gen, runID, domain.StateUploading) {
		log.Printf("[pipeline] run %s continues unobserved", runID)
	}
	videoID, err := c.uploader.UploadAudio(ctx, audio)
	if err != nil {
		return "", c.fail(ctx, gen, &run, domain.StateUploading, "audio upload failed", err)
	}
	run.RemoteVideoID = videoID

	c.advance(gen, runID, domain.StateRequesting)
	if err := c.uploader.RequestTranscription(ctx, videoID, prompt); err != nil {
		return "", c.fail(ctx, gen, &run, domain.StateRequesting, "transcription request failed", err)
	}

	current := c.advance(gen, runID, domain.StateDone)
	run.FinalState = domain.StateDone
	run.Superseded = !current
	run.FinishedAt = c.now().UTC()
	c.record(ctx, run)

	if !current {
		log.Printf("[pipeline] run %s finished after being superseded (video id=%s)", runID, videoID)
		return videoID, ErrRunSuperseded
	}

	c.mu.Lock()
	c.events.Publish(Event{RunID: runID, Type: EventTypeResult, State: domain.StateDone, VideoID: videoID})
	c.mu.Unlock()

	log.Printf("[pipeline] run %s done, video id=%s", runID, videoID)
	if c.onVideoUpload != nil {
		c.onVideoUpload(videoID)
	}
	return videoID, nil
}

// Close releases the live preview reference. Later calls fail with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.generation++
	if c.previewRef != "" && c.previewer != nil {
		c.previewer.Release(c.previewRef)
	}
	c.previewRef = ""
	return nil
}

// State returns the live pipeline state.
func (c *Controller) State() domain.PipelineState {
	return c.machine.Current()
}

// Selection returns the current selection and its preview reference.
func (c *Controller) Selection() (domain.VideoSelection, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return domain.VideoSelection{}, "", false
	}
	return *c.selection, c.previewRef, true
}

// Events returns events newer than seq.
func (c *Controller) Events(seq int64) []Event {
	return c.events.Since(seq)
}

// Subscribe registers a live event listener.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.Subscribe(buffer)
}

// advance moves a current run to the next state and reports whether the run
// is still the observed one.
func (c *Controller) advance(gen uint64, runID string, to domain.PipelineState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false
	}
	if err := c.machine.Transition(to); err != nil {
		log.Printf("[pipeline] run %s: %v", runID, err)
		return false
	}
	c.publishStatus(runID, to)
	return true
}

func (c *Controller) publishProgress(gen uint64, runID string, ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.events.Publish(Event{
		RunID:    runID,
		Type:     EventTypeProgress,
		State:    domain.StateConverting,
		Progress: ratio,
	})
}

// publishStatus must be called with c.mu held.
func (c *Controller) publishStatus(runID string, state domain.PipelineState) {
	c.events.Publish(Event{RunID: runID, Type: EventTypeStatus, State: state})
}

// fail resets a current run to idle and builds the stage error.
func (c *Controller) fail(ctx context.Context, gen uint64, run *domain.Run, stage domain.PipelineState, message string, err error) error {
	pipeErr := &PipelineError{Stage: stage, Message: message, Err: err}

	c.mu.Lock()
	current := gen == c.generation
	if current {
		c.machine.Reset()
		c.events.Publish(Event{
			RunID:   run.ID,
			Type:    EventTypeError,
			State:   domain.StateIdle,
			Stage:   stage,
			Message: pipeErr.Error(),
		})
	}
	c.mu.Unlock()

	log.Printf("[pipeline] run %s failed: %v", run.ID, pipeErr)

	run.FinalState = domain.StateIdle
	run.FailedStage = stage
	run.Error = pipeErr.Error()
	run.Superseded = !current
	run.FinishedAt = c.now().UTC()
	c.record(ctx, *run)
	return pipeErr
}

func (c *Controller) record(ctx context.Context, run domain.Run) {
	if c.history == nil {
		return
	}
	// Recorded even when the caller's context is already done.
	if err := c.history.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("[pipeline] save run %s: %v", run.ID, err)
	}
}
