package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"upload-ai/internal/config"
	"upload-ai/internal/domain"
	"upload-ai/internal/engine"
)

const (
	installCommandTimeout = 45 * time.Minute
	engineDownloadTimeout = 30 * time.Minute
)

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	settingsChanged := false
	var fixErr error

	switch id {
	case domain.DiagnosticEngineAsset:
		fixErr = fixEngineAsset(settings)
	case domain.DiagnosticFFmpeg:
		fixErr = newInstaller().installFFmpeg(settings.FFmpegPath)
	case domain.DiagnosticAPIBaseURL:
		settings, settingsChanged = fixAPIBaseURL(settings)
	case domain.DiagnosticDataDir:
		settings, settingsChanged, fixErr = fixDataDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// fixEngineAsset downloads the configured ffmpeg.wasm build.
func fixEngineAsset(settings domain.Settings) error {
	if strings.TrimSpace(settings.EngineWASMURL) == "" {
		return fmt.Errorf("no engine download URL configured; set engineWasmUrl or UPLOAD_AI_ENGINE_WASM_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), engineDownloadTimeout)
	defer cancel()
	if err := engine.FetchAsset(ctx, settings.EngineWASMPath, settings.EngineWASMURL); err != nil {
		return fmt.Errorf("download engine module: %w", err)
	}
	return nil
}

// fixAPIBaseURL falls back to the default local server address.
func fixAPIBaseURL(settings domain.Settings) (domain.Settings, bool) {
	fallback := config.DefaultSettings().APIBaseURL
	changed := settings.APIBaseURL != fallback
	settings.APIBaseURL = fallback
	return settings, changed
}

// fixDataDir creates the data directory, defaulting it when empty.
func fixDataDir(settings domain.Settings) (domain.Settings, bool, error) {
	dataDir := strings.TrimSpace(settings.DataDir)
	changed := false
	if dataDir == "" {
		dataDir = config.DefaultSettings().DataDir
		settings.DataDir = dataDir
		changed = true
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	return settings, changed, nil
}

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package-manager commands; OS access is injectable.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func newInstaller() *installer {
	return &installer{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// ffmpegInstallOptions lists package managers to try, in order, per OS.
func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"}}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "ffmpeg"}}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

// installFFmpeg installs ffmpeg with the first working package manager and
// verifies ffmpegPath resolves afterwards.
func (i *installer) installFFmpeg(ffmpegPath string) error {
	name := strings.TrimSpace(ffmpegPath)
	if name == "" {
		name = "ffmpeg"
	}
	if _, err := i.lookPath(name); err == nil {
		return nil
	}

	if err := i.runFirstSuccessful(ffmpegInstallOptions(i.goos)); err != nil {
		return fmt.Errorf("install ffmpeg: %w", err)
	}
	if _, err := i.lookPath(name); err != nil {
		return fmt.Errorf("verify %s after install: %w", name, err)
	}
	return nil
}

func (i *installer) runFirstSuccessful(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	var failures []string
	for _, option := range options {
		if !i.available(option.manager) {
			continue
		}
		err := i.runAll(option.commands)
		if err == nil {
			return nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if len(failures) == 0 {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return errors.New(strings.Join(failures, " | "))
}

func (i *installer) runAll(commands [][]string) error {
	for _, command := range commands {
		if err := i.runElevatedIfNeeded(command); err != nil {
			return err
		}
	}
	return nil
}

// runElevatedIfNeeded retries system package managers through pkexec or
// non-interactive sudo on Linux.
func (i *installer) runElevatedIfNeeded(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if i.goos == "linux" && requiresElevation(command[0]) {
		if i.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attempts := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := i.runOne(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attempts = append(attempts, err.Error())
	}
	return errors.New(strings.Join(attempts, " | "))
}

func (i *installer) runOne(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	output, err := i.run(ctx, name, args...)
	if err == nil {
		return nil
	}
	command := strings.Join(append([]string{name}, args...), " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", command, installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", command, err, trimmed)
}

func (i *installer) available(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}
