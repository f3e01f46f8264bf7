package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// workspace is the directory backing an engine's virtual filesystem.
type workspace struct {
	dir string
}

func newWorkspace() (workspace, error) {
	dir, err := os.MkdirTemp("", "upload-ai-engine-*")
	if err != nil {
		return workspace{}, fmt.Errorf("create engine workspace: %w", err)
	}
	return workspace{dir: dir}, nil
}

// path resolves a virtual file name, rejecting anything but a base name.
func (w workspace) path(name string) (string, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(name), "/")
	if clean == "" || clean == "." || clean == ".." || filepath.Base(clean) != clean {
		return "", fmt.Errorf("invalid virtual file name: %q", name)
	}
	return filepath.Join(w.dir, clean), nil
}

func (w workspace) WriteFile(name string, data []byte) error {
	p, err := w.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (w workspace) ReadFile(name string) ([]byte, error) {
	p, err := w.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (w workspace) Remove(name string) error {
	p, err := w.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w workspace) close() error {
	if w.dir == "" {
		return nil
	}
	return os.RemoveAll(w.dir)
}
