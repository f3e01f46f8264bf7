package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"upload-ai/internal/config"
	"upload-ai/internal/diagnostics"
	"upload-ai/internal/domain"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/preview"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Pushed runtime event names.
const (
	EventPipeline = "pipeline:event"
	EventUploaded = "pipeline:uploaded"
)

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "MP4 video",
		Pattern:     "*.mp4",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// SelectionView describes the selected video to the front end.
type SelectionView struct {
	Name       string `json:"name"`
	MediaType  string `json:"mediaType"`
	Size       int    `json:"size"`
	PreviewURL string `json:"previewUrl"`
}

// StateView is the live pipeline state plus its display label.
type StateView struct {
	State domain.PipelineState `json:"state"`
	Label string               `json:"label"`
}

// promptLister fetches prompt suggestions.
type promptLister interface {
	ListPrompts(ctx context.Context) ([]domain.Prompt, error)
}

// runLister reads recorded runs.
type runLister interface {
	List(ctx context.Context, limit int) ([]domain.Run, error)
}

// App wires configuration, the upload pipeline, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	Controller  *pipeline.Controller
	assets      fs.FS
	checker     *diagnostics.Checker
	services    *Services
	prompts     promptLister
	history     runLister
	previews    http.Handler
	emit        func(ctx context.Context, name string, data ...interface{})

	mu          sync.Mutex
	runtimeCtx  context.Context
	stopForward func()
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store := config.NewJSONStore(config.SettingsPath())
	settings, err := LoadSettings(store)
	if err != nil {
		return nil, err
	}

	checker := diagnostics.NewChecker()
	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: checker.Run(settings),
		assets:      assets,
		checker:     checker,
		emit:        wailsruntime.EventsEmit,
	}

	services, err := NewServices(settings, app.handleVideoUpload)
	if err != nil {
		return nil, fmt.Errorf("wire services: %w", err)
	}
	app.services = services
	app.Controller = services.Controller
	app.prompts = services.Remote
	app.history = services.History
	app.previews = services.Previews
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	return wails.Run(&options.App{
		Title:       "upload.ai",
		Width:       1180,
		Height:      780,
		AssetServer: a.assetOptions(),
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// assetOptions serves the UI from embedded assets or ./frontend, and
// previews from the registry.
func (a *App) assetOptions() *assetserver.Options {
	if a.assets != nil {
		return &assetserver.Options{Assets: a.assets, Handler: a.previews}
	}

	router := chi.NewRouter()
	if a.previews != nil {
		router.Handle(preview.PathPrefix+"*", a.previews)
	}
	router.Handle("/*", http.FileServer(http.Dir("./frontend")))
	return &assetserver.Options{Handler: router}
}

// Startup stores Wails runtime context and starts forwarding pipeline events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	if a.Controller == nil {
		return
	}
	events, cancel := a.Controller.Subscribe(256)
	a.mu.Lock()
	a.stopForward = cancel
	a.mu.Unlock()

	go func() {
		for event := range events {
			a.push(EventPipeline, event)
		}
	}()
}

// Shutdown stops event forwarding and releases pipeline resources.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	stop := a.stopForward
	a.stopForward = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if a.services != nil {
		if err := a.services.Close(ctx); err != nil {
			log.Printf("[bootstrap] shutdown: %v", err)
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// Engine and server changes take effect on the next launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickVideoFile opens a native file dialog and selects the chosen video.
// An empty view with no error means the dialog was dismissed.
func (a *App) PickVideoFile() (SelectionView, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return SelectionView{}, err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select a video",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return SelectionView{}, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return SelectionView{}, nil
	}

	return a.SelectVideo(path)
}

// SelectVideo loads the file at path and makes it the current selection.
func (a *App) SelectVideo(path string) (SelectionView, error) {
	sel, err := LoadVideoFile(path)
	if err != nil {
		return SelectionView{}, err
	}

	ref, err := a.Controller.SelectVideo(sel)
	if err != nil {
		return SelectionView{}, err
	}
	return SelectionView{
		Name:       sel.Name,
		MediaType:  sel.MediaType,
		Size:       len(sel.Data),
		PreviewURL: ref,
	}, nil
}

// Submit runs the pipeline for the current selection and returns the
// remote video id. Progress is pushed as pipeline events while it runs.
func (a *App) Submit(prompt string) (string, error) {
	return a.Controller.Submit(context.Background(), strings.TrimSpace(prompt))
}

// CurrentState returns the live pipeline state.
func (a *App) CurrentState() StateView {
	state := a.Controller.State()
	return StateView{State: state, Label: state.Label()}
}

// PipelineEvents returns all events with sequence greater than sinceSeq.
func (a *App) PipelineEvents(sinceSeq int64) []pipeline.Event {
	return a.Controller.Events(sinceSeq)
}

// ListPrompts fetches prompt suggestions from the server.
func (a *App) ListPrompts() ([]domain.Prompt, error) {
	if a.prompts == nil {
		return nil, fmt.Errorf("prompt source is not configured")
	}
	return a.prompts.ListPrompts(context.Background())
}

// RecentRuns returns the newest recorded runs.
func (a *App) RecentRuns(limit int) ([]domain.Run, error) {
	if a.history == nil {
		return nil, fmt.Errorf("run history is not configured")
	}
	return a.history.List(context.Background(), limit)
}

// handleVideoUpload is the controller's upward callback.
func (a *App) handleVideoUpload(videoID string) {
	log.Printf("[bootstrap] video uploaded: %s", videoID)
	a.push(EventUploaded, videoID)
}

// push emits a runtime event when the UI is attached.
func (a *App) push(name string, payload interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	emit := a.emit
	a.mu.Unlock()
	if ctx != nil && emit != nil {
		emit(ctx, name, payload)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// LoadVideoFile reads a video from disk into a selection, sniffing its
// media type from content and falling back to the extension.
func LoadVideoFile(path string) (domain.VideoSelection, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.VideoSelection{}, fmt.Errorf("video path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.VideoSelection{}, fmt.Errorf("read video: %w", err)
	}
	if len(data) == 0 {
		return domain.VideoSelection{}, fmt.Errorf("video file is empty: %s", path)
	}
	return domain.VideoSelection{
		Name:      filepath.Base(path),
		MediaType: sniffMediaType(filepath.Base(path), data),
		Data:      data,
	}, nil
}

func sniffMediaType(name string, data []byte) string {
	detected := http.DetectContentType(data)
	if detected != "application/octet-stream" {
		return detected
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return detected
}
