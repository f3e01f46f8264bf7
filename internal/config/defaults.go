package config

import (
	"os"
	"path/filepath"

	"upload-ai/internal/domain"
)

const (
	defaultAPIBaseURL  = "http://localhost:3333"
	defaultListenAddr  = "127.0.0.1:8787"
	defaultHTTPTimeout = 300
)

// HomeDir returns the per-user application directory.
func HomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".upload-ai")
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	base := HomeDir()
	return domain.Settings{
		APIBaseURL:         defaultAPIBaseURL,
		Engine:             domain.EngineWASM,
		EngineWASMPath:     filepath.Join(base, "engine", "ffmpeg.wasm"),
		FFmpegPath:         "ffmpeg",
		DataDir:            filepath.Join(base, "data"),
		ListenAddr:         defaultListenAddr,
		CORSOrigins:        []string{"*"},
		HTTPTimeoutSeconds: defaultHTTPTimeout,
	}
}

// SettingsPath is where the JSON settings store lives by default.
func SettingsPath() string {
	return filepath.Join(HomeDir(), "settings.json")
}

// HistoryPath returns the sqlite database location under the data dir.
func HistoryPath(settings domain.Settings) string {
	return filepath.Join(settings.DataDir, "history.db")
}

// EngineCacheDir returns the compiled-module cache location under the data dir.
func EngineCacheDir(settings domain.Settings) string {
	return filepath.Join(settings.DataDir, "engine-cache")
}
