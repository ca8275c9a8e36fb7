// Package disk implements common.DiskManager over an afero.Fs, the same
// filesystem abstraction the teacher's storage/engine takes instead of
// talking to os directly — it lets tests run against afero.NewMemMapFs()
// with the exact same code path production uses against afero.NewOsFs().
//
// The disk manager is an external collaborator per spec.md §1: the core
// only ever calls ReadPage/WritePage/AllocatePageID/DeallocatePage through
// common.DiskManager. This package exists so the rest of the module (and
// its tests) have a concrete one to run against.
package disk

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"

	"coredb/internal/common"
)

// Manager is a single-heap-file DiskManager: page id * pageSize is the
// file offset, matching the teacher's storage/disk.Manager layout.
type Manager struct {
	fs       afero.Fs
	path     string
	pageSize int

	mu       sync.Mutex
	nextID   atomic.Int64
	freed    map[common.PageID]struct{}
	freedMu  sync.Mutex
}

var _ common.DiskManager = (*Manager)(nil)

// New opens (creating if absent) path on fs as a flat heap file of
// fixed-size pages.
func New(fs afero.Fs, path string, pageSize int) (*Manager, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open heap file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat heap file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	m := &Manager{
		fs:       fs,
		path:     path,
		pageSize: pageSize,
		freed:    make(map[common.PageID]struct{}),
	}
	m.nextID.Store(info.Size() / int64(pageSize))
	return m, nil
}

// NewMemory is a convenience constructor for tests: an in-memory fs with a
// single backing heap file.
func NewMemory(pageSize int) (*Manager, error) {
	return New(afero.NewMemMapFs(), "/heap.db", pageSize)
}

func (m *Manager) ReadPage(id common.PageID, buf []byte) error {
	if len(buf) != m.pageSize {
		return fmt.Errorf("disk: buffer size %d != page size %d", len(buf), m.pageSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fs.OpenFile(m.path, os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	off := int64(id) * int64(m.pageSize)
	n, err := f.ReadAt(buf, off)
	if err != nil && n == 0 {
		// A page that was allocated but never written reads as zeros.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	return nil
}

func (m *Manager) WritePage(id common.PageID, buf []byte) error {
	if len(buf) != m.pageSize {
		return fmt.Errorf("disk: buffer size %d != page size %d", len(buf), m.pageSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fs.OpenFile(m.path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	off := int64(id) * int64(m.pageSize)
	_, err = f.WriteAt(buf, off)
	return err
}

func (m *Manager) AllocatePageID() common.PageID {
	return common.PageID(m.nextID.Add(1) - 1)
}

func (m *Manager) DeallocatePage(id common.PageID) {
	m.freedMu.Lock()
	defer m.freedMu.Unlock()
	m.freed[id] = struct{}{}
}

// Deallocated reports whether DeallocatePage(id) has been called; exposed
// for tests that want to assert the buffer pool actually notified the disk
// manager on delete_page.
func (m *Manager) Deallocated(id common.PageID) bool {
	m.freedMu.Lock()
	defer m.freedMu.Unlock()
	_, ok := m.freed[id]
	return ok
}
