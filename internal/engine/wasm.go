package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const stderrTailBytes = 4096

// WASMConfig locates the ffmpeg WASI module and its compilation cache.
type WASMConfig struct {
	ModulePath string
	ModuleURL  string
	CacheDir   string
}

// WASMEngine runs a WASI ffmpeg build inside a wazero runtime. The guest
// sees its workspace mounted at "/".
type WASMEngine struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	cache    wazero.CompilationCache
	fsConfig wazero.FSConfig
	workspace
}

// WASMLoader returns a LoadFunc that resolves the module asset and loads it.
func WASMLoader(cfg WASMConfig) LoadFunc {
	return func(ctx context.Context) (Engine, error) {
		path, err := EnsureAsset(ctx, cfg.ModulePath, cfg.ModuleURL)
		if err != nil {
			return nil, err
		}
		cfg.ModulePath = path
		return LoadWASM(ctx, cfg)
	}
}

// LoadWASM compiles the module once; each Exec instantiates it fresh.
func LoadWASM(ctx context.Context, cfg WASMConfig) (*WASMEngine, error) {
	bin, err := os.ReadFile(cfg.ModulePath)
	if err != nil {
		return nil, fmt.Errorf("read engine module: %w", err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create engine cache dir: %w", err)
		}
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("open engine cache: %w", err)
		}
		runtimeConfig = runtimeConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	fail := func(err error) (*WASMEngine, error) {
		_ = rt.Close(ctx)
		if cache != nil {
			_ = cache.Close(ctx)
		}
		return nil, err
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fail(fmt.Errorf("instantiate wasi: %w", err))
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return fail(fmt.Errorf("compile engine module: %w", err))
	}

	ws, err := newWorkspace()
	if err != nil {
		return fail(err)
	}

	return &WASMEngine{
		runtime:   rt,
		compiled:  compiled,
		cache:     cache,
		fsConfig:  wazero.NewFSConfig().WithDirMount(ws.dir, "/"),
		workspace: ws,
	}, nil
}

// Name identifies the engine in logs.
func (e *WASMEngine) Name() string {
	return "ffmpeg.wasm"
}

// Exec runs ffmpeg once with args; a zero exit status is success.
func (e *WASMEngine) Exec(ctx context.Context, args []string, onProgress func(float64)) error {
	progress := newProgressWriter(onProgress)
	var stderr bytes.Buffer

	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{"ffmpeg"}, args...)...).
		WithStdout(io.Discard).
		WithStderr(io.MultiWriter(progress, &stderr)).
		WithFSConfig(e.fsConfig).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, moduleConfig)
	if mod != nil {
		_ = mod.Close(ctx)
	}

	exitCode := 0
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			exitCode = int(exitErr.ExitCode())
		} else {
			exitCode = -1
		}
	}
	if exitCode != 0 {
		return &ExecError{
			Log: CommandLog{
				Engine:   e.Name(),
				Args:     append([]string(nil), args...),
				ExitCode: exitCode,
				Stderr:   tail(stderr.String(), stderrTailBytes),
			},
			Err: err,
		}
	}

	progress.Finish()
	return nil
}

// Close tears down the runtime, the cache handle, and the workspace.
func (e *WASMEngine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cacheErr := e.cache.Close(ctx); err == nil {
			err = cacheErr
		}
	}
	if wsErr := e.workspace.close(); err == nil {
		err = wsErr
	}
	return err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
