package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"upload-ai/internal/config"
	"upload-ai/internal/domain"
	"upload-ai/internal/engine"
	"upload-ai/internal/history"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/preview"
	"upload-ai/internal/remote"
	"upload-ai/internal/transcode"
)

// Services is the shared object graph behind every host surface.
type Services struct {
	Settings   domain.Settings
	Engines    *engine.Handle
	Transcoder *transcode.Transcoder
	Remote     *remote.Client
	Previews   *preview.Registry
	History    *history.Store
	Events     *pipeline.EventBus
	Controller *pipeline.Controller
}

// LoadSettings reads persisted settings and overlays .env / environment values.
func LoadSettings(store config.Store) (domain.Settings, error) {
	config.LoadEnvFiles()
	settings, err := store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return config.ApplyEnv(settings), nil
}

// EngineLoader picks the engine implementation configured in settings.
func EngineLoader(settings domain.Settings) engine.LoadFunc {
	if settings.Engine == domain.EngineNative {
		return engine.NativeLoader(settings.FFmpegPath)
	}
	return engine.WASMLoader(engine.WASMConfig{
		ModulePath: settings.EngineWASMPath,
		ModuleURL:  settings.EngineWASMURL,
		CacheDir:   config.EngineCacheDir(settings),
	})
}

// NewServices wires engine, transcoder, client, previews, history, and the
// pipeline controller. onVideoUpload may be nil.
func NewServices(settings domain.Settings, onVideoUpload func(videoID string)) (*Services, error) {
	store, err := history.Open(config.HistoryPath(settings))
	if err != nil {
		return nil, err
	}

	handle := engine.NewHandle(EngineLoader(settings))
	transcoder := transcode.New(handle)
	client := remote.New(settings.APIBaseURL, time.Duration(settings.HTTPTimeoutSeconds)*time.Second)
	previews := preview.NewRegistry()
	events := pipeline.NewEventBus(1000)

	controller, err := pipeline.NewController(pipeline.Options{
		Converter:     transcoder,
		Uploader:      client,
		Previewer:     previews,
		History:       store,
		Events:        events,
		OnVideoUpload: onVideoUpload,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	log.Printf("[bootstrap] engine=%s api=%s data=%s", settings.Engine, settings.APIBaseURL, settings.DataDir)

	return &Services{
		Settings:   settings,
		Engines:    handle,
		Transcoder: transcoder,
		Remote:     client,
		Previews:   previews,
		History:    store,
		Events:     events,
		Controller: controller,
	}, nil
}

// Close tears down the controller, previews, engine, and history store.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if err := s.Controller.Close(); err != nil {
		errs = append(errs, err)
	}
	s.Previews.ReleaseAll()
	if err := s.Engines.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	if err := s.History.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history: %w", err))
	}
	return errors.Join(errs...)
}
