package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/lo"

	"upload-ai/internal/domain"
)

// Checker validates the media engine, server URL, and data directory.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	if settings.Engine == domain.EngineNative {
		items = append(items, c.checkFFmpeg(settings.FFmpegPath))
	} else {
		items = append(items, c.checkEngineAsset(settings.EngineWASMPath, settings.EngineWASMURL))
	}
	items = append(items,
		checkAPIBaseURL(settings.APIBaseURL),
		c.checkDataDir(settings.DataDir),
	)

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkEngineAsset verifies the ffmpeg WebAssembly module is on disk.
func (c *Checker) checkEngineAsset(path, sourceURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticEngineAsset,
		Name: "Media engine (ffmpeg.wasm)",
	}

	if strings.TrimSpace(path) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Engine module path is empty."
		item.Hint = "Set engineWasmPath in settings or UPLOAD_AI_ENGINE_WASM."
		return item
	}

	info, err := c.stat(path)
	switch {
	case err == nil && info.IsDir():
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine module path is a directory: %s", path)
		item.Hint = "Point engineWasmPath at the ffmpeg .wasm file itself."
		return item
	case err == nil && info.Size() == 0:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine module is empty: %s", path)
	case err == nil:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Engine module found: %s (%d bytes)", path, info.Size())
		return item
	case IsNotExist(err):
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine module not found: %s", path)
	default:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot access engine module: %s", path)
		item.Hint = "Check permissions for the engine directory."
		return item
	}

	if strings.TrimSpace(sourceURL) == "" {
		item.Hint = "Place a WASI build of ffmpeg at this path or set UPLOAD_AI_ENGINE_WASM_URL so it can be downloaded."
		return item
	}
	item.Fixable = true
	item.Hint = fmt.Sprintf("Run the fix action to download it from %s.", sourceURL)
	return item
}

// checkFFmpeg verifies the native ffmpeg executable resolves.
func (c *Checker) checkFFmpeg(ffmpegPath string) domain.DiagnosticItem {
	name := strings.TrimSpace(ffmpegPath)
	if name == "" {
		name = "ffmpeg"
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      domain.DiagnosticFFmpeg,
			Name:    "ffmpeg",
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", name),
			Hint:    "Install ffmpeg and ensure the binary is available on PATH, or switch the engine back to wasm.",
			Fixable: true,
		}
	}

	return domain.DiagnosticItem{
		ID:      domain.DiagnosticFFmpeg,
		Name:    "ffmpeg",
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkAPIBaseURL validates the upload server address.
func checkAPIBaseURL(raw string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticAPIBaseURL,
		Name: "Upload server URL",
		Hint: "Set apiBaseUrl in settings or UPLOAD_AI_API_URL, e.g. http://localhost:3333.",
	}

	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid server URL: %q", raw)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Uploads go to %s", parsed.String())
	item.Hint = ""
	return item
}

// checkDataDir validates data directory existence and write access.
func (c *Checker) checkDataDir(dataDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.DiagnosticDataDir,
		Name: "Data directory",
	}

	if strings.TrimSpace(dataDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Data directory is empty."
		item.Hint = "Set a data directory where run history and engine cache can be written."
		return item
	}

	if err := c.mkdirAll(dataDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create data directory: %s", dataDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.Fixable = true
		return item
	}

	tmpFile, err := c.createTemp(dataDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Data directory is not writable: %s", dataDir)
		item.Hint = "Choose a writable directory for run history."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dataDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
