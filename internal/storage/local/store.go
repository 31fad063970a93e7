// Package local manages the harvester's output files on the local
// filesystem: run destinations, replay sources and archived copies.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned for names that resolve outside the base dir.
var ErrPathTraversal = errors.New("path traversal detected")

// Config captures the parameters for the local output store.
type Config struct {
	// BaseDir is the root directory all output files live under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store opens files beneath a single base directory.
type Store struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the directory the store writes under.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path resolves name against the base directory, rejecting names that
// escape it.
func (s *Store) Path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, name))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, ErrPathTraversal)
	}
	return full, nil
}

// Create opens name for writing, truncating any previous content.
func (s *Store) Create(name string) (io.WriteCloser, error) {
	return s.open(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// Append opens name for writing at its end, creating it when missing.
func (s *Store) Append(name string) (io.WriteCloser, error) {
	return s.open(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

// Open opens name for reading.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	full, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- full is confined to the base directory by Path.
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (s *Store) open(name string, flag int) (io.WriteCloser, error) {
	full, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	// #nosec G304 -- full is confined to the base directory by Path.
	f, err := os.OpenFile(full, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// PutObject writes data to path under the base directory and returns a
// file:// URI. It serves as the archive store when no bucket is configured.
func (s *Store) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	w, err := s.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	full, _ := s.Path(path)
	return fmt.Sprintf("file://%s", full), nil
}
