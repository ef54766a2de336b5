package storage

import (
	"context"
	"strings"
	"sync"
)

// MemDisk is an in-memory disk used by tests.
type MemDisk struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemDisk creates an empty in-memory disk.
func NewMemDisk() *MemDisk {
	return &MemDisk{objects: make(map[string][]byte)}
}

func (d *MemDisk) Get(ctx context.Context, path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, ok := d.objects[path]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (d *MemDisk) Put(ctx context.Context, path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	d.objects[path] = stored
	return nil
}

func (d *MemDisk) Exists(ctx context.Context, path string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.objects[path]
	return ok, nil
}

func (d *MemDisk) Delete(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.objects, path)
	return nil
}

func (d *MemDisk) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var dirs []string
	for path := range d.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
		if i := strings.Index(rest, "/"); i > 0 {
			dir := rest[:i]
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
		}
	}
	return dirs, nil
}
