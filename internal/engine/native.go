package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command in dir, teeing stderr to the given writer.
func (r *execRunner) Run(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var captured bytes.Buffer
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(&captured, stderr)
	} else {
		cmd.Stderr = &captured
	}

	err := cmd.Run()
	result := commandResult{
		Stderr:   captured.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// NativeEngine runs a host ffmpeg binary with its working directory set to
// a private workspace, so relative names behave like the WASM engine's.
type NativeEngine struct {
	ffmpegPath string
	runner     commandRunner
	workspace
}

// NativeLoader returns a LoadFunc for the native engine.
func NativeLoader(ffmpegPath string) LoadFunc {
	return func(ctx context.Context) (Engine, error) {
		return LoadNative(ffmpegPath)
	}
}

// LoadNative resolves the ffmpeg binary and creates the workspace.
func LoadNative(ffmpegPath string) (*NativeEngine, error) {
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	ws, err := newWorkspace()
	if err != nil {
		return nil, err
	}
	return &NativeEngine{
		ffmpegPath: path,
		runner:     &execRunner{},
		workspace:  ws,
	}, nil
}

// Name identifies the engine in logs.
func (e *NativeEngine) Name() string {
	return "ffmpeg"
}

// Exec runs ffmpeg non-interactively with args.
func (e *NativeEngine) Exec(ctx context.Context, args []string, onProgress func(float64)) error {
	progress := newProgressWriter(onProgress)
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)

	result, err := e.runner.Run(ctx, e.workspace.dir, progress, e.ffmpegPath, full...)
	if err != nil {
		return &ExecError{
			Log: CommandLog{
				Engine:   e.ffmpegPath,
				Args:     full,
				ExitCode: result.ExitCode,
				Stderr:   tail(result.Stderr, stderrTailBytes),
			},
			Err: err,
		}
	}

	progress.Finish()
	return nil
}

// Close removes the workspace.
func (e *NativeEngine) Close(ctx context.Context) error {
	return e.workspace.close()
}

// newNativeForTests builds a native engine around an injected runner.
func newNativeForTests(ffmpegPath string, runner commandRunner, dir string) *NativeEngine {
	return &NativeEngine{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		workspace:  workspace{dir: dir},
	}
}
