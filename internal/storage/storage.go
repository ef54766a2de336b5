// Package storage provides the named-disk boundary used for live document
// storage and tiered archive storage. A disk is a named backend: local
// filesystem, an S3-class object store, or an in-memory disk for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotExist is returned when the requested object is absent on the disk.
var ErrNotExist = errors.New("object does not exist")

// ErrRestoreInProgress is returned by glacier-class backends when the object
// is still being restored from cold storage. Callers must treat the read as
// asynchronous and retry later.
var ErrRestoreInProgress = errors.New("cold storage restore in progress")

// Disk is a single named storage backend.
type Disk interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	ListDirectories(ctx context.Context, prefix string) ([]string, error)
}

// Manager resolves disks by name.
type Manager struct {
	disks map[string]Disk
}

// NewManager creates a manager over the given named disks.
func NewManager(disks map[string]Disk) *Manager {
	if disks == nil {
		disks = make(map[string]Disk)
	}
	return &Manager{disks: disks}
}

// Register adds or replaces a named disk.
func (m *Manager) Register(name string, disk Disk) {
	m.disks[name] = disk
}

// Disk returns the named disk or an error if it is not configured.
func (m *Manager) Disk(name string) (Disk, error) {
	disk, ok := m.disks[name]
	if !ok {
		return nil, fmt.Errorf("storage disk %q is not configured", name)
	}
	return disk, nil
}

// Get reads an object from the named disk.
func (m *Manager) Get(ctx context.Context, disk, path string) ([]byte, error) {
	d, err := m.Disk(disk)
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, path)
}

// Put writes an object to the named disk.
func (m *Manager) Put(ctx context.Context, disk, path string, data []byte) error {
	d, err := m.Disk(disk)
	if err != nil {
		return err
	}
	return d.Put(ctx, path, data)
}

// Exists checks object presence on the named disk.
func (m *Manager) Exists(ctx context.Context, disk, path string) (bool, error) {
	d, err := m.Disk(disk)
	if err != nil {
		return false, err
	}
	return d.Exists(ctx, path)
}

// Delete removes an object from the named disk.
func (m *Manager) Delete(ctx context.Context, disk, path string) error {
	d, err := m.Disk(disk)
	if err != nil {
		return err
	}
	return d.Delete(ctx, path)
}
