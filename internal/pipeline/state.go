package pipeline

import (
	"fmt"
	"sync"

	"upload-ai/internal/domain"
)

// Machine holds the live pipeline state and enforces its transitions.
type Machine struct {
	mu    sync.RWMutex
	state domain.PipelineState
	runID string
}

// NewMachine creates a machine in idle state.
func NewMachine() *Machine {
	return &Machine{state: domain.StateIdle}
}

// Begin starts a run, moving idle to converting.
func (m *Machine) Begin(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.StateIdle {
		return ErrRunInProgress
	}
	m.state = domain.StateConverting
	m.runID = runID
	return nil
}

// Transition validates and applies the next state of the current run.
func (m *Machine) Transition(to domain.PipelineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runID == "" {
		return fmt.Errorf("cannot transition without an active run")
	}
	if !isValidTransition(m.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// Current returns the live state.
func (m *Machine) Current() domain.PipelineState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// RunID returns the id of the run the state belongs to, if any.
func (m *Machine) RunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runID
}

// Reset returns the machine to idle from any state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.StateIdle
	m.runID = ""
}

// IsRunning reports whether a run is between idle and done.
func (m *Machine) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.state)
}

func isRunning(state domain.PipelineState) bool {
	switch state {
	case domain.StateConverting, domain.StateUploading, domain.StateRequesting:
		return true
	default:
		return false
	}
}

// isValidTransition allows only the next stage; aborts go through Reset.
func isValidTransition(from, to domain.PipelineState) bool {
	switch from {
	case domain.StateIdle:
		return to == domain.StateConverting
	case domain.StateConverting:
		return to == domain.StateUploading
	case domain.StateUploading:
		return to == domain.StateRequesting
	case domain.StateRequesting:
		return to == domain.StateDone
	default:
		return false
	}
}
