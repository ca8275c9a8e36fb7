// Package bufferpool implements the fixed-capacity buffer pool manager
// from spec.md §4.B: page id -> frame mapping, pin counts, dirty
// write-back, the free list, and eviction via internal/replacer.
//
// Grounded on the teacher's src/bufferpool/bufferpool.go: one struct-level
// mutex covers the page table, free list, and frame metadata (spec.md §5);
// frame acquisition on a miss pops the free list first and only falls back
// to the replacer's victim when the free list is empty, exactly as the
// teacher's Manager.GetPage does via reserveFrame()/ChooseVictim().
package bufferpool

import (
	"fmt"
	"sync"

	"github.com/panjf2000/ants"
	"go.uber.org/zap"

	"coredb/internal/assert"
	"coredb/internal/common"
	"coredb/internal/page"
	"coredb/internal/replacer"
)

// Manager is the buffer pool. The page table, free list and frame metadata
// are guarded by mu, and every operation takes it; FlushAllPages performs
// its disk writes on worker goroutines without holding mu.
type Manager struct {
	mu sync.Mutex

	poolSize int
	pageSize int

	frames    []*page.Frame
	pageTable map[common.PageID]common.FrameID
	freeList  []common.FrameID

	replacer *replacer.LRUK
	disk     common.DiskManager
	logger   *zap.Logger

	flushPool *ants.Pool
}

// New builds a pool of poolSize frames of pageSize bytes each, backed by
// disk for read-through/write-back and an LRU-K replacer using history
// length k.
func New(poolSize, pageSize, k int, disk common.DiskManager, logger *zap.Logger) (*Manager, error) {
	assert.Assert(poolSize > 0, "pool size must be positive, got %d", poolSize)
	if logger == nil {
		logger = zap.NewNop()
	}

	frames := make([]*page.Frame, poolSize)
	freeList := make([]common.FrameID, poolSize)
	for i := 0; i < poolSize; i++ {
		frames[i] = page.New(int64(i), pageSize)
		freeList[i] = common.FrameID(i)
	}

	flushPool, err := ants.NewPool(max(1, poolSize/4))
	if err != nil {
		return nil, fmt.Errorf("bufferpool: creating flush pool: %w", err)
	}

	return &Manager{
		poolSize:  poolSize,
		pageSize:  pageSize,
		frames:    frames,
		pageTable: make(map[common.PageID]common.FrameID, poolSize),
		freeList:  freeList,
		replacer:  replacer.New(poolSize, k),
		disk:      disk,
		logger:    logger,
		flushPool: flushPool,
	}, nil
}

// Close releases the background flush worker pool.
func (m *Manager) Close() {
	m.flushPool.Release()
}

// NewPage allocates a fresh page, binds it to a frame, pins it once, and
// returns the frame along with its new id. Returns an error ("cannot
// serve") if no frame could be acquired.
func (m *Manager) NewPage() (*page.Frame, common.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame, err := m.acquireFrameLocked()
	if err != nil {
		return nil, common.Invalid, err
	}

	id := m.disk.AllocatePageID()
	frame.Reset()
	frame.PageID = int64(id)
	frame.PinCount = 1
	frame.Dirty = false

	m.pageTable[id] = common.FrameID(frame.ID)
	m.recordAccessAndPinLocked(frame.ID)

	m.logger.Debug("new page", zap.Int64("page", int64(id)), zap.Int64("frame", frame.ID))
	return frame, id, nil
}

// FetchPage returns the frame holding id, pinning it once more. Reads
// through to disk on a miss.
func (m *Manager) FetchPage(id common.PageID) (*page.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[id]; ok {
		frame := m.frames[frameID]
		frame.PinCount++
		m.recordAccessAndPinLocked(frame.ID)
		return frame, nil
	}

	frame, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	frame.Reset()
	frame.PageID = int64(id)
	frame.PinCount = 1
	frame.Dirty = false

	if err := m.disk.ReadPage(id, frame.Data); err != nil {
		// Undo the binding; the frame goes back to the free list.
		frame.PageID = -1
		m.freeList = append(m.freeList, common.FrameID(frame.ID))
		return nil, fmt.Errorf("bufferpool: unable to fetch page %d: %w", id, err)
	}

	m.pageTable[id] = common.FrameID(frame.ID)
	m.recordAccessAndPinLocked(frame.ID)
	return frame, nil
}

// UnpinPage decrements id's pin count, ORing in isDirty. Returns false if
// id is not resident or its pin count was already 0. This is the only way
// a frame becomes evictable (spec.md §4.B).
func (m *Manager) UnpinPage(id common.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return false
	}
	frame := m.frames[frameID]
	if frame.PinCount <= 0 {
		return false
	}

	if isDirty {
		frame.Dirty = true
	}
	frame.PinCount--
	if frame.PinCount == 0 {
		m.replacer.SetEvictable(int64(frameID), true)
	}
	return true
}

// FlushPage writes id's bytes to disk and clears its dirty flag, regardless
// of pin count. Returns false if id is not resident.
func (m *Manager) FlushPage(id common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(id)
}

func (m *Manager) flushLocked(id common.PageID) bool {
	frameID, ok := m.pageTable[id]
	if !ok {
		return false
	}
	frame := m.frames[frameID]
	if err := m.disk.WritePage(id, frame.Data); err != nil {
		m.logger.Error("flush page failed", zap.Int64("page", int64(id)), zap.Error(err))
		return false
	}
	frame.Dirty = false
	return true
}

// FlushAllPages writes every dirty resident page to disk. Dirty frames are
// pinned while mu is still held, so a concurrent NewPage/FetchPage miss can
// never pick one as an eviction victim and rebind it to a different page
// out from under a queued flush; they're then flushed concurrently through
// a bounded ants worker pool once their per-page latch is held exclusively,
// and unpinned again afterward. Idempotent: repeated calls are no-ops once
// nothing is dirty.
func (m *Manager) FlushAllPages() error {
	type dirtyPage struct {
		id    common.PageID
		frame *page.Frame
	}

	var dirty []dirtyPage
	m.mu.Lock()
	for id, frameID := range m.pageTable {
		frame := m.frames[frameID]
		if frame.Dirty {
			frame.PinCount++
			m.replacer.SetEvictable(frame.ID, false)
			dirty = append(dirty, dirtyPage{id: id, frame: frame})
		}
	}
	m.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}

	unpin := func(frame *page.Frame) {
		m.mu.Lock()
		frame.PinCount--
		if frame.PinCount == 0 {
			m.replacer.SetEvictable(frame.ID, true)
		}
		m.mu.Unlock()
	}

	errs := make([]error, len(dirty))
	var wg sync.WaitGroup
	for i, dp := range dirty {
		i, dp := i, dp
		wg.Add(1)
		err := m.flushPool.Submit(func() {
			defer wg.Done()
			defer unpin(dp.frame)

			dp.frame.Latch.Lock()
			defer dp.frame.Latch.Unlock()

			if common.PageID(dp.frame.PageID) != dp.id {
				// Rebound to a different page while queued; nothing of
				// ours left to flush.
				return
			}
			if err := m.disk.WritePage(dp.id, dp.frame.Data); err != nil {
				errs[i] = err
				return
			}
			m.mu.Lock()
			dp.frame.Dirty = false
			m.mu.Unlock()
		})
		if err != nil {
			wg.Done()
			unpin(dp.frame)
			errs[i] = err
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("bufferpool: flush all pages: %w", err)
		}
	}
	return nil
}

// DeletePage removes id from the pool. Returns true if id was not resident
// (no-op) or was resident and unpinned (and is now freed); false if id is
// resident and still pinned.
func (m *Manager) DeletePage(id common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[id]
	if !ok {
		return true
	}
	frame := m.frames[frameID]
	if frame.PinCount > 0 {
		return false
	}

	delete(m.pageTable, id)
	m.replacer.Remove(int64(frameID))
	frame.Reset()
	frame.PageID = -1
	m.freeList = append(m.freeList, frameID)
	m.disk.DeallocatePage(id)
	return true
}

// acquireFrameLocked implements the frame acquisition policy of spec.md
// §4.B: prefer the free list, else ask the replacer for a victim, writing
// it back first if dirty. Caller holds m.mu.
func (m *Manager) acquireFrameLocked() (*page.Frame, error) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return m.frames[frameID], nil
	}

	victimFrame, ok := m.replacer.Evict()
	if !ok {
		return nil, fmt.Errorf("bufferpool: no evictable frame available")
	}

	frame := m.frames[victimFrame]
	oldID := common.PageID(frame.PageID)
	assert.Assert(frame.PinCount == 0, "evicted frame %d has nonzero pin count %d", frame.ID, frame.PinCount)

	if frame.Dirty {
		if !m.flushLocked(oldID) {
			return nil, fmt.Errorf("bufferpool: failed to write back dirty victim page %d", oldID)
		}
	}

	delete(m.pageTable, oldID)
	m.logger.Debug("evicted frame", zap.Int64("frame", frame.ID), zap.Int64("old_page", int64(oldID)))
	return frame, nil
}

// recordAccessAndPinLocked records a replacer access for frameID and marks
// it non-evictable, matching the "record access and mark non-evictable" step
// both new_page and fetch_page perform on every hit or miss.
func (m *Manager) recordAccessAndPinLocked(frameID int64) {
	if err := m.replacer.RecordAccess(frameID); err != nil {
		// Every resident frame was reserved via the free list or an
		// eviction, so the replacer always has room to track it; a
		// rejection here means the pool/replacer sizes drifted apart.
		assert.Never("replacer rejected access for resident frame %d: %v", frameID, err)
	}
	m.replacer.SetEvictable(frameID, false)
}

// CheckAllUnpinned is a test-only invariant check mirroring the teacher's
// DebugBufferPool.EnsureAllPagesUnpinnedAndUnlocked: it reports any
// resident page whose pin count is still nonzero. Not part of the
// production API; intended for test teardown.
func (m *Manager) CheckAllUnpinned() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var leaked []common.PageID
	for id, frameID := range m.pageTable {
		if m.frames[frameID].PinCount != 0 {
			leaked = append(leaked, id)
		}
	}
	if len(leaked) > 0 {
		return fmt.Errorf("bufferpool: pages still pinned at teardown: %v", leaked)
	}
	return nil
}

