package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend implements Storage entirely in process memory, used for
// planning dry-runs (spec §4.9). Grounded on pkg/store/memory.go's
// mutex-guarded map with deep-copy-on-write/read to prevent external
// mutation of stored bytes.
type MemoryBackend struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true},
	}
}

func (m *MemoryBackend) ReadString(ctx context.Context, path string) (string, error) {
	data, err := m.ReadBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *MemoryBackend) ReadBytes(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("blobstore: %s does not exist", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryBackend) Write(_ context.Context, path string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	m.markDirs(path)
	return nil
}

func (m *MemoryBackend) markDirs(path string) {
	dir := parentOf(path)
	for dir != "" && !m.dirs[dir] {
		m.dirs[dir] = true
		dir = parentOf(dir)
	}
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

func (m *MemoryBackend) FileExists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *MemoryBackend) DirectoryExists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[path], nil
}

func (m *MemoryBackend) CreateDirectory(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

func (m *MemoryBackend) List(_ context.Context, path string, opts ListOptions, fn func(ListEntry) error) error {
	m.mu.RLock()
	var paths []string
	for p := range m.files {
		if matchesListPrefix(p, path, opts.Deep) {
			paths = append(paths, p)
		}
	}
	m.mu.RUnlock()

	sort.Strings(paths)
	for _, p := range paths {
		size := len(m.files[p])
		if err := fn(ListEntry{Path: p, IsDir: false, Size: int64(size)}); err != nil {
			return err
		}
	}
	return nil
}

func matchesListPrefix(candidate, base string, deep bool) bool {
	prefix := base
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(candidate, prefix) {
		return false
	}
	if deep {
		return true
	}
	rest := candidate[len(prefix):]
	return !strings.Contains(rest, "/")
}
