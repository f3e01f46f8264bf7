package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"upload-ai/internal/domain"
)

// LoadEnvFiles loads UPLOAD_AI_ENV, ~/.upload-ai.env and ./.env in that
// order. Missing files are skipped; variables already set win.
func LoadEnvFiles() {
	paths := []string{}
	if p := strings.TrimSpace(os.Getenv("UPLOAD_AI_ENV")); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".upload-ai.env"))
	}
	paths = append(paths, ".env")

	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("[config] skip env file %s: %v", p, err)
		}
	}
}

// ApplyEnv overlays UPLOAD_AI_* environment variables on settings.
func ApplyEnv(cfg domain.Settings) domain.Settings {
	cfg.APIBaseURL = getEnv("UPLOAD_AI_API_URL", cfg.APIBaseURL)
	cfg.Engine = getEnv("UPLOAD_AI_ENGINE", cfg.Engine)
	cfg.EngineWASMPath = getEnv("UPLOAD_AI_ENGINE_WASM", cfg.EngineWASMPath)
	cfg.EngineWASMURL = getEnv("UPLOAD_AI_ENGINE_WASM_URL", cfg.EngineWASMURL)
	cfg.FFmpegPath = getEnv("UPLOAD_AI_FFMPEG", cfg.FFmpegPath)
	cfg.DataDir = getEnv("UPLOAD_AI_DATA_DIR", cfg.DataDir)
	cfg.ListenAddr = getEnv("UPLOAD_AI_LISTEN", cfg.ListenAddr)
	cfg.HTTPTimeoutSeconds = getEnvAsInt("UPLOAD_AI_HTTP_TIMEOUT", cfg.HTTPTimeoutSeconds)

	// comma-separated list or "*"
	if v := os.Getenv("UPLOAD_AI_CORS_ORIGINS"); v != "" {
		origins := make([]string, 0)
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORSOrigins = origins
	}

	return Normalize(cfg)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return n
}
