// Package local provides a local filesystem storage backend.
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

// ErrInvalidKey is returned for keys that would escape the root directory.
var ErrInvalidKey = errors.New("invalid object key")

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string
	CreateDirs bool
}

// Backend stores objects as files under a root directory.
type Backend struct {
	rootPath   string
	createDirs bool
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{rootPath: cfg.RootPath, createDirs: cfg.CreateDirs}, nil
}

func (b *Backend) fullPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.rootPath, clean), nil
}

// GetObject reads a file with range support.
func (b *Backend) GetObject(_ context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	path, err := b.fullPath(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	total := info.Size()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("seek %s: %w", key, err)
		}
	}

	remaining := max(total-offset, 0)
	if length > 0 && length < remaining {
		return &limitedReadCloser{Reader: io.LimitReader(f, length), Closer: f}, length, nil
	}
	return f, remaining, nil
}

// PutObject writes content atomically through a temp file and rename.
func (b *Backend) PutObject(_ context.Context, key string, body io.Reader, size int64) error {
	path, err := b.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if b.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dirs for %s: %w", key, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".librarian-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if size > 0 && written != size {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: got %d bytes, expected %d", key, written, size)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes a file. A missing file is not an error.
func (b *Backend) DeleteObject(_ context.Context, key string) error {
	path, err := b.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ObjectExists checks if a file exists.
func (b *Backend) ObjectExists(_ context.Context, key string) (bool, error) {
	path, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
