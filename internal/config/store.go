package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"upload-ai/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
// Fields absent from the file keep their default values.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Settings{}, err
	}

	cfg := DefaultSettings()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return Normalize(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(Normalize(cfg), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Normalize trims user input and fills empty fields from defaults.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}

	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if cfg.Engine != domain.EngineNative {
		cfg.Engine = domain.EngineWASM
	}

	cfg.EngineWASMPath = strings.TrimSpace(cfg.EngineWASMPath)
	if cfg.EngineWASMPath == "" {
		cfg.EngineWASMPath = defaults.EngineWASMPath
	}
	cfg.EngineWASMURL = strings.TrimSpace(cfg.EngineWASMURL)

	cfg.FFmpegPath = strings.TrimSpace(cfg.FFmpegPath)
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaults.FFmpegPath
	}

	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}

	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaults.CORSOrigins
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = defaults.HTTPTimeoutSeconds
	}

	return cfg
}
