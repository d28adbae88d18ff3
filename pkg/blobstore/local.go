package blobstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBackend implements Storage over the local filesystem, adapted from
// pkg/storage/local.go (MkdirAll + os.Create/os.Open + io.Copy) retargeted
// from file:// URIs to plain resolved paths.
type LocalBackend struct{}

// NewLocalBackend returns a new local filesystem backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (l *LocalBackend) ReadString(ctx context.Context, path string) (string, error) {
	data, err := l.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *LocalBackend) ReadBytes(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", path, err)
	}
	return data, nil
}

func (l *LocalBackend) Write(_ context.Context, path string, data []byte, _ string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: create directories for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", path, err)
	}
	return nil
}

func (l *LocalBackend) FileExists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

func (l *LocalBackend) DirectoryExists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

func (l *LocalBackend) CreateDirectory(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("blobstore: create directory %s: %w", path, err)
	}
	return nil
}

func (l *LocalBackend) List(_ context.Context, path string, opts ListOptions, fn func(ListEntry) error) error {
	if !opts.Deep {
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("blobstore: list %s: %w", path, err)
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				return fmt.Errorf("blobstore: stat entry %s: %w", e.Name(), err)
			}
			if err := fn(ListEntry{Path: filepath.Join(path, e.Name()), IsDir: e.IsDir(), Size: info.Size()}); err != nil {
				return err
			}
		}
		return nil
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if p == path {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(ListEntry{Path: p, IsDir: d.IsDir(), Size: info.Size()})
	})
}
