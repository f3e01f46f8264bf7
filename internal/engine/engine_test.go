package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeEngine is a minimal Engine for handle tests.
type fakeEngine struct {
	closed bool
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) WriteFile(string, []byte) error { return nil }
func (f *fakeEngine) ReadFile(string) ([]byte, error) { return nil, nil }
func (f *fakeEngine) Remove(string) error { return nil }
func (f *fakeEngine) Exec(context.Context, []string, func(float64)) error { return nil }
func (f *fakeEngine) Close(context.Context) error {
	f.closed = true
	return nil
}

// fakeRunner simulates ffmpeg inside the workspace dir.
type fakeRunner struct {
	run func(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, dir string, stderr io.Writer, name string, args ...string) (commandResult, error) {
	return f.run(ctx, dir, stderr, name, args...)
}

// TestHandleLoadsOnce verifies concurrent Get calls share one load.
func TestHandleLoadsOnce(t *testing.T) {
	loads := 0
	eng := &fakeEngine{}
	h := NewHandle(func(ctx context.Context) (Engine, error) {
		loads++
		return eng, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := h.Get(context.Background())
			if err != nil || got != eng {
				t.Errorf("Get() = %v, %v", got, err)
			}
		}()
	}
	wg.Wait()

	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}
}

// TestHandleCachesLoadError verifies a failed load stays failed.
func TestHandleCachesLoadError(t *testing.T) {
	loads := 0
	loadErr := errors.New("assets unavailable")
	h := NewHandle(func(ctx context.Context) (Engine, error) {
		loads++
		return nil, loadErr
	})

	for i := 0; i < 3; i++ {
		if _, err := h.Get(context.Background()); !errors.Is(err, loadErr) {
			t.Fatalf("Get() error = %v, want %v", err, loadErr)
		}
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}
}

// TestHandleCloseReleasesEngine checks teardown and post-close behavior.
func TestHandleCloseReleasesEngine(t *testing.T) {
	eng := &fakeEngine{}
	h := NewHandle(func(ctx context.Context) (Engine, error) { return eng, nil })
	if _, err := h.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !eng.closed {
		t.Fatal("expected engine to be closed")
	}
	if _, err := h.Get(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get() after close error = %v, want %v", err, ErrClosed)
	}
}

// TestProgressWriterParsesFFmpegStats checks ratio parsing and monotonicity.
func TestProgressWriterParsesFFmpegStats(t *testing.T) {
	var got []float64
	w := newProgressWriter(func(r float64) { got = append(got, r) })

	stderr := "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'input.mp4':\n" +
		"  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s\n" +
		"size=       6kB time=00:00:02.50 bitrate=  20.1kbits/s speed=5x\r" +
		"size=      12kB time=00:00:05.00 bitrate=  20.0kbits/s speed=5x\r" +
		"size=      11kB time=00:00:04.00 bitrate=  20.0kbits/s speed=5x\r" +
		"size=      24kB time=00:00:10"
	// split writes mid-line to exercise buffering
	mid := len(stderr) / 2
	w.Write([]byte(stderr[:mid]))
	w.Write([]byte(stderr[mid:]))
	w.Finish()

	want := []float64{0, 0.25, 0.5, 1}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress = %v, want %v", got, want)
		}
	}
}

// TestProgressWriterWithoutDurationOnlyFinishes checks unknown-length input.
func TestProgressWriterWithoutDurationOnlyFinishes(t *testing.T) {
	var got []float64
	w := newProgressWriter(func(r float64) { got = append(got, r) })
	w.Write([]byte("  Duration: N/A, bitrate: N/A\nsize= 1kB time=00:00:01.00\n"))
	w.Finish()

	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("progress = %v, want [1]", got)
	}
}

// TestWorkspaceRejectsEscapingNames keeps the virtual FS flat.
func TestWorkspaceRejectsEscapingNames(t *testing.T) {
	ws := workspace{dir: t.TempDir()}
	for _, name := range []string{"", "..", "../x.mp4", "a/b.mp4"} {
		if err := ws.WriteFile(name, []byte("x")); err == nil {
			t.Fatalf("WriteFile(%q) expected error", name)
		}
	}
	if err := ws.WriteFile("/input.mp4", []byte("x")); err != nil {
		t.Fatalf("WriteFile(/input.mp4) error = %v", err)
	}
	if err := ws.Remove("missing.mp3"); err != nil {
		t.Fatalf("Remove(missing) error = %v", err)
	}
}

// TestNativeEngineExecRunsInWorkspace checks args, dir, and progress.
func TestNativeEngineExecRunsInWorkspace(t *testing.T) {
	dir := t.TempDir()
	var gotDir, gotName string
	var gotArgs []string
	runner := &fakeRunner{run: func(ctx context.Context, d string, stderr io.Writer, name string, args ...string) (commandResult, error) {
		gotDir, gotName, gotArgs = d, name, args
		io.WriteString(stderr, "  Duration: 00:00:04.00, start: 0\ntime=00:00:02.00 bitrate=20k\r")
		if err := os.WriteFile(filepath.Join(d, args[len(args)-1]), []byte("mp3"), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return commandResult{}, nil
	}}

	eng := newNativeForTests("/usr/bin/ffmpeg", runner, dir)
	var progress []float64
	if err := eng.Exec(context.Background(), []string{"-i", "input.mp4", "output.mp3"}, func(r float64) {
		progress = append(progress, r)
	}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if gotDir != dir || gotName != "/usr/bin/ffmpeg" {
		t.Fatalf("run dir/name = %q/%q", gotDir, gotName)
	}
	if strings.Join(gotArgs, " ") != "-hide_banner -nostdin -y -i input.mp4 output.mp3" {
		t.Fatalf("args = %v", gotArgs)
	}
	data, err := eng.ReadFile("output.mp3")
	if err != nil || string(data) != "mp3" {
		t.Fatalf("ReadFile() = %q, %v", data, err)
	}
	if len(progress) != 3 || progress[len(progress)-1] != 1 {
		t.Fatalf("progress = %v", progress)
	}
}

// TestNativeEngineExecFailureCarriesLog checks ExecError details.
func TestNativeEngineExecFailureCarriesLog(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, d string, stderr io.Writer, name string, args ...string) (commandResult, error) {
		return commandResult{Stderr: "input.mp4: Invalid data found", ExitCode: 1}, errors.New("exit status 1")
	}}

	eng := newNativeForTests("ffmpeg", runner, t.TempDir())
	err := eng.Exec(context.Background(), []string{"-i", "input.mp4"}, nil)

	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecError", err)
	}
	if execErr.Log.ExitCode != 1 || !strings.Contains(execErr.Log.Stderr, "Invalid data") {
		t.Fatalf("log = %+v", execErr.Log)
	}
}

// TestEnsureAssetDownloadsMissingFile checks download-on-demand.
func TestEnsureAssetDownloadsMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x00asm"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "engine", "ffmpeg.wasm")
	got, err := EnsureAsset(context.Background(), path, srv.URL+"/ffmpeg.wasm")
	if err != nil {
		t.Fatalf("EnsureAsset() error = %v", err)
	}
	if got != path {
		t.Fatalf("path = %q, want %q", got, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "\x00asm" {
		t.Fatalf("asset = %q, %v", data, err)
	}
	if _, err := os.Stat(path + ".download"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

// TestEnsureAssetMissingWithoutURLFails checks the no-source error.
func TestEnsureAssetMissingWithoutURLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg.wasm")
	if _, err := EnsureAsset(context.Background(), path, ""); err == nil {
		t.Fatal("expected error for missing asset")
	}
}

// TestFetchAssetRejectsHTTPError checks non-200 handling.
func TestFetchAssetRejectsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "ffmpeg.wasm")
	if err := FetchAsset(context.Background(), path, srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("asset should not exist: %v", err)
	}
}

// TestLoadWASMRejectsInvalidModule checks compile failures surface.
func TestLoadWASMRejectsInvalidModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg.wasm")
	if err := os.WriteFile(path, []byte("not wasm"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadWASM(context.Background(), WASMConfig{ModulePath: path}); err == nil {
		t.Fatal("expected compile error")
	}
}
