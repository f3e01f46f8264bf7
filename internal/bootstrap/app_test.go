package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"upload-ai/internal/domain"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/preview"
)

// mp4Header is enough of an ftyp box for content sniffing.
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    *domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records the last saved settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.saved = &settings
	s.settings = settings
	return nil
}

// fakeConverter returns a fixed mp3 artifact.
type fakeConverter struct{}

func (fakeConverter) Convert(ctx context.Context, video []byte, sourceName, targetName string, onProgress func(float64)) (domain.AudioArtifact, error) {
	if onProgress != nil {
		onProgress(1)
	}
	return domain.AudioArtifact{Name: "audio.mp3", MediaType: domain.AudioMediaType, Data: []byte("mp3")}, nil
}

// fakeUploader accepts every upload and returns videoID.
type fakeUploader struct {
	videoID string
	prompt  string
}

func (f *fakeUploader) UploadAudio(ctx context.Context, audio domain.AudioArtifact) (string, error) {
	return f.videoID, nil
}

func (f *fakeUploader) RequestTranscription(ctx context.Context, videoID, prompt string) error {
	f.prompt = prompt
	return nil
}

// emitted collects runtime events pushed by the App.
type emitted struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
}

func (e *emitted) emit(ctx context.Context, name string, data ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
	if len(data) > 0 {
		e.data = append(e.data, data[0])
	}
}

func (e *emitted) find(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, event := range e.events {
		if event == name {
			return e.data[i], true
		}
	}
	return nil, false
}

// newTestApp wires a real controller around fake remote stages.
func newTestApp(t *testing.T, up *fakeUploader) (*App, *emitted) {
	t.Helper()
	sink := &emitted{}
	app := &App{
		Store:      &fakeStore{},
		emit:       sink.emit,
		runtimeCtx: context.Background(),
	}
	registry := preview.NewRegistry()
	controller, err := pipeline.NewController(pipeline.Options{
		Converter:     fakeConverter{},
		Uploader:      up,
		Previewer:     registry,
		OnVideoUpload: app.handleVideoUpload,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	app.Controller = controller
	app.previews = registry
	return app, sink
}

func writeVideo(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}

// TestSelectVideoReturnsPreviewView checks the selection view.
func TestSelectVideoReturnsPreviewView(t *testing.T) {
	app, _ := newTestApp(t, &fakeUploader{videoID: "v1"})
	path := writeVideo(t, "clip.mp4", mp4Header)

	view, err := app.SelectVideo(path)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if view.Name != "clip.mp4" || view.Size != len(mp4Header) {
		t.Fatalf("view = %+v", view)
	}
	if view.MediaType != "video/mp4" {
		t.Fatalf("MediaType = %q, want video/mp4", view.MediaType)
	}
	if !strings.HasPrefix(view.PreviewURL, preview.PathPrefix) {
		t.Fatalf("PreviewURL = %q", view.PreviewURL)
	}
	if got := app.CurrentState(); got.State != domain.StateIdle || got.Label != "Upload video" {
		t.Fatalf("state = %+v", got)
	}
}

// TestSubmitPushesUploadedEvent checks the upward callback reaches the UI.
func TestSubmitPushesUploadedEvent(t *testing.T) {
	up := &fakeUploader{videoID: "video-42"}
	app, sink := newTestApp(t, up)
	if _, err := app.SelectVideo(writeVideo(t, "clip.mp4", mp4Header)); err != nil {
		t.Fatalf("select: %v", err)
	}

	videoID, err := app.Submit("  summarize this  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if videoID != "video-42" {
		t.Fatalf("videoID = %q", videoID)
	}
	if up.prompt != "summarize this" {
		t.Fatalf("prompt = %q, want trimmed", up.prompt)
	}

	payload, ok := sink.find(EventUploaded)
	if !ok {
		t.Fatal("expected uploaded event")
	}
	if payload != "video-42" {
		t.Fatalf("payload = %v", payload)
	}
	if got := app.CurrentState(); got.State != domain.StateDone || got.Label != "Success!" {
		t.Fatalf("state = %+v", got)
	}

	if _, err := app.Submit("again"); !errors.Is(err, pipeline.ErrRunFinished) {
		t.Fatalf("second submit err = %v, want %v", err, pipeline.ErrRunFinished)
	}
}

// TestSubmitWithoutSelection surfaces the controller precondition.
func TestSubmitWithoutSelection(t *testing.T) {
	app, sink := newTestApp(t, &fakeUploader{videoID: "v1"})

	if _, err := app.Submit("prompt"); !errors.Is(err, pipeline.ErrNoSelection) {
		t.Fatalf("err = %v, want %v", err, pipeline.ErrNoSelection)
	}
	if _, ok := sink.find(EventUploaded); ok {
		t.Fatal("unexpected uploaded event")
	}
}

// TestStartupForwardsPipelineEvents checks runtime event forwarding.
func TestStartupForwardsPipelineEvents(t *testing.T) {
	app, sink := newTestApp(t, &fakeUploader{videoID: "v1"})
	app.Startup(context.Background())
	defer app.Shutdown(context.Background())

	if _, err := app.SelectVideo(writeVideo(t, "clip.mp4", mp4Header)); err != nil {
		t.Fatalf("select: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if payload, ok := sink.find(EventPipeline); ok {
			event, isEvent := payload.(pipeline.Event)
			if !isEvent || event.Type != pipeline.EventTypeSelection {
				t.Fatalf("payload = %#v", payload)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline event was not forwarded")
}

// TestPushWithoutRuntimeIsNoop drops events before Startup.
func TestPushWithoutRuntimeIsNoop(t *testing.T) {
	sink := &emitted{}
	app := &App{emit: sink.emit}

	app.push(EventUploaded, "v1")
	if _, ok := sink.find(EventUploaded); ok {
		t.Fatal("event emitted without runtime context")
	}
	if _, err := app.runtimeContext(); err == nil {
		t.Fatal("expected runtime context error")
	}
}

type stubPrompts struct{ prompts []domain.Prompt }

func (s stubPrompts) ListPrompts(context.Context) ([]domain.Prompt, error) {
	return s.prompts, nil
}

type stubRuns struct{ limit int }

func (s *stubRuns) List(_ context.Context, limit int) ([]domain.Run, error) {
	s.limit = limit
	return []domain.Run{{ID: "r1", FinalState: domain.StateDone}}, nil
}

// TestListPromptsAndRecentRuns checks the read-only bindings.
func TestListPromptsAndRecentRuns(t *testing.T) {
	app := &App{}
	if _, err := app.ListPrompts(); err == nil {
		t.Fatal("expected error without prompt source")
	}
	if _, err := app.RecentRuns(5); err == nil {
		t.Fatal("expected error without history")
	}

	runs := &stubRuns{}
	app.prompts = stubPrompts{prompts: []domain.Prompt{{ID: "p1", Title: "Summary"}}}
	app.history = runs

	prompts, err := app.ListPrompts()
	if err != nil || len(prompts) != 1 || prompts[0].ID != "p1" {
		t.Fatalf("prompts = %+v, err = %v", prompts, err)
	}
	got, err := app.RecentRuns(5)
	if err != nil || len(got) != 1 || runs.limit != 5 {
		t.Fatalf("runs = %+v (limit %d), err = %v", got, runs.limit, err)
	}
}

// TestSaveSettingsNormalizesAndRefreshes checks persisted settings.
func TestSaveSettingsNormalizesAndRefreshes(t *testing.T) {
	store := &fakeStore{}
	app := &App{Store: store}

	saved, err := app.SaveSettings(domain.Settings{APIBaseURL: "http://localhost:3333/", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.saved == nil {
		t.Fatal("expected store save")
	}
	if saved.Engine == "" {
		t.Fatalf("expected normalized engine, got %+v", saved)
	}
	if app.Settings.DataDir != saved.DataDir {
		t.Fatalf("app settings not refreshed: %+v", app.Settings)
	}
}

// TestLoadVideoFileErrors checks input validation.
func TestLoadVideoFileErrors(t *testing.T) {
	if _, err := LoadVideoFile("  "); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := LoadVideoFile(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected missing file error")
	}
	if _, err := LoadVideoFile(writeVideo(t, "empty.mp4", nil)); err == nil {
		t.Fatal("expected empty file error")
	}
}
