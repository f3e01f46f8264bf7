package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"upload-ai/internal/domain"
)

// TestApplyEnvOverridesSettings checks every UPLOAD_AI_* key is honored.
func TestApplyEnvOverridesSettings(t *testing.T) {
	t.Setenv("UPLOAD_AI_API_URL", "http://api.test:3333/")
	t.Setenv("UPLOAD_AI_ENGINE", "NATIVE")
	t.Setenv("UPLOAD_AI_FFMPEG", "/opt/ffmpeg")
	t.Setenv("UPLOAD_AI_DATA_DIR", "/tmp/upload-ai")
	t.Setenv("UPLOAD_AI_CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("UPLOAD_AI_HTTP_TIMEOUT", "45")

	got := ApplyEnv(DefaultSettings())

	if got.APIBaseURL != "http://api.test:3333" {
		t.Fatalf("api base url = %q", got.APIBaseURL)
	}
	if got.Engine != domain.EngineNative {
		t.Fatalf("engine = %q, want native", got.Engine)
	}
	if got.FFmpegPath != "/opt/ffmpeg" {
		t.Fatalf("ffmpeg = %q", got.FFmpegPath)
	}
	if got.DataDir != "/tmp/upload-ai" {
		t.Fatalf("data dir = %q", got.DataDir)
	}
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(got.CORSOrigins, want) {
		t.Fatalf("cors origins = %v, want %v", got.CORSOrigins, want)
	}
	if got.HTTPTimeoutSeconds != 45 {
		t.Fatalf("timeout = %d, want 45", got.HTTPTimeoutSeconds)
	}
}

// TestApplyEnvIgnoresBadTimeout keeps the previous value on parse errors.
func TestApplyEnvIgnoresBadTimeout(t *testing.T) {
	t.Setenv("UPLOAD_AI_HTTP_TIMEOUT", "soon")

	got := ApplyEnv(DefaultSettings())
	if got.HTTPTimeoutSeconds != defaultHTTPTimeout {
		t.Fatalf("timeout = %d, want %d", got.HTTPTimeoutSeconds, defaultHTTPTimeout)
	}
}

// TestLoadEnvFilesReadsExplicitFile checks UPLOAD_AI_ENV is loaded.
func TestLoadEnvFilesReadsExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.env")
	if err := os.WriteFile(path, []byte("UPLOAD_AI_LISTEN=127.0.0.1:9999\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("UPLOAD_AI_ENV", path)
	t.Setenv("UPLOAD_AI_LISTEN", "")
	os.Unsetenv("UPLOAD_AI_LISTEN")

	LoadEnvFiles()
	t.Cleanup(func() { os.Unsetenv("UPLOAD_AI_LISTEN") })

	if got := ApplyEnv(DefaultSettings()).ListenAddr; got != "127.0.0.1:9999" {
		t.Fatalf("listen addr = %q, want 127.0.0.1:9999", got)
	}
}
