package bufferpool

import (
	"coredb/internal/common"
	"coredb/internal/page"
)

// BasicGuard owns one pin on a resident page. It does not itself take the
// frame's content latch — callers that need concurrency safety on the byte
// contents should use ReadGuard or WriteGuard instead. Grounded on spec.md
// §4.C's three guard flavors; Go has no destructors, so the guard's
// lifetime is a Drop() call, conventionally deferred right after it is
// constructed.
type BasicGuard struct {
	pool    *Manager
	frame   *page.Frame
	pageID  common.PageID
	dirty   bool
	dropped bool
}

func newBasicGuard(pool *Manager, frame *page.Frame, id common.PageID) *BasicGuard {
	return &BasicGuard{pool: pool, frame: frame, pageID: id}
}

// PageID reports the id of the guarded page.
func (g *BasicGuard) PageID() common.PageID { return g.pageID }

// Data exposes the page's raw bytes. Mutating callers must call MarkDirty.
func (g *BasicGuard) Data() []byte { return g.frame.Data }

// MarkDirty records that the page's content was mutated, so it will be
// written back on eviction or an explicit flush.
func (g *BasicGuard) MarkDirty() { g.dirty = true }

// Drop unpins the page, propagating the dirty flag. Only the first call
// unpins; later calls are no-ops, which keeps callers' defer patterns
// simple.
func (g *BasicGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.pool.UnpinPage(g.pageID, g.dirty)
}

// ReadGuard additionally holds the frame's content latch for reading,
// serializing against concurrent writers of the same page.
type ReadGuard struct {
	*BasicGuard
}

func (g *ReadGuard) Drop() {
	if g.dropped {
		return
	}
	g.frame.Latch.RUnlock()
	g.BasicGuard.Drop()
}

// WriteGuard holds the frame's content latch exclusively and marks the page
// dirty unconditionally on construction, per spec.md §4.C ("acquiring a
// write guard marks the page dirty regardless of whether the caller ends up
// mutating it").
type WriteGuard struct {
	*BasicGuard
}

func (g *WriteGuard) Drop() {
	if g.dropped {
		return
	}
	g.frame.Latch.Unlock()
	g.BasicGuard.Drop()
}

// NewPageBasic allocates a fresh page and returns an unlatched guard on it.
func (m *Manager) NewPageBasic() (*BasicGuard, error) {
	frame, id, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	return newBasicGuard(m, frame, id), nil
}

// NewPageWrite allocates a fresh page and returns it with the write latch
// held and the dirty flag already set.
func (m *Manager) NewPageWrite() (*WriteGuard, error) {
	frame, id, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	frame.Latch.Lock()
	g := newBasicGuard(m, frame, id)
	g.dirty = true
	return &WriteGuard{g}, nil
}

// FetchPageBasic pins an existing page without acquiring its content latch.
func (m *Manager) FetchPageBasic(id common.PageID) (*BasicGuard, error) {
	frame, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return newBasicGuard(m, frame, id), nil
}

// FetchPageRead pins an existing page and acquires its content latch for
// reading.
func (m *Manager) FetchPageRead(id common.PageID) (*ReadGuard, error) {
	frame, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	frame.Latch.RLock()
	return &ReadGuard{newBasicGuard(m, frame, id)}, nil
}

// FetchPageWrite pins an existing page and acquires its content latch
// exclusively, marking it dirty.
func (m *Manager) FetchPageWrite(id common.PageID) (*WriteGuard, error) {
	frame, err := m.FetchPage(id)
	if err != nil {
		return nil, err
	}
	frame.Latch.Lock()
	g := newBasicGuard(m, frame, id)
	g.dirty = true
	return &WriteGuard{g}, nil
}
