// Package engine hosts the media-processing engine used for audio
// extraction: a WASI ffmpeg build running under wazero, or a native ffmpeg
// process, both confined to a private virtual filesystem.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrClosed is returned by Handle.Get after Close.
var ErrClosed = errors.New("engine handle closed")

// Engine runs ffmpeg argument lists against its own virtual filesystem.
// File names are plain base names inside that filesystem.
type Engine interface {
	Name() string
	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	Exec(ctx context.Context, args []string, onProgress func(float64)) error
	Close(ctx context.Context) error
}

// LoadFunc constructs and loads an engine.
type LoadFunc func(ctx context.Context) (Engine, error)

// CommandLog captures one engine invocation.
type CommandLog struct {
	Engine   string   `json:"engine"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// ExecError is returned by Exec when the transform exits unsuccessfully.
type ExecError struct {
	Log CommandLog
	Err error
}

// Error formats engine failures for logs and UI.
func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s exited with code %d: %v", e.Log.Engine, e.Log.ExitCode, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Handle is a lazily initialized engine shared by every run in the process.
// The load function runs at most once; its result, error included, is kept.
type Handle struct {
	once sync.Once
	load LoadFunc

	mu  sync.Mutex
	eng Engine
	err error
}

// NewHandle wraps load in a load-once handle.
func NewHandle(load LoadFunc) *Handle {
	return &Handle{load: load}
}

// Get returns the shared engine, loading it on first use.
func (h *Handle) Get(ctx context.Context) (Engine, error) {
	h.once.Do(func() {
		eng, err := h.load(ctx)
		if err != nil {
			log.Printf("[engine] load failed: %v", err)
		} else {
			log.Printf("[engine] %s engine ready", eng.Name())
		}
		h.mu.Lock()
		h.eng, h.err = eng, err
		h.mu.Unlock()
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng, h.err
}

// Close releases the engine if it was loaded and prevents later loads.
func (h *Handle) Close(ctx context.Context) error {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = ErrClosed
		h.mu.Unlock()
	})

	h.mu.Lock()
	eng := h.eng
	h.eng = nil
	h.err = ErrClosed
	h.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close(ctx)
}
