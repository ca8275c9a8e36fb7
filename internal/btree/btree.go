package btree

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"coredb/internal/assert"
	"coredb/internal/bufferpool"
	"coredb/internal/common"
)

// guard is the subset of bufferpool's guard types the descent logic needs:
// a view of the page's bytes and a way to release it.
type guard interface {
	PageID() common.PageID
	Data() []byte
	Drop()
}

// Tree is a crabbing-latch B+Tree index over a buffer pool, per spec.md
// §4.E. Its header page holds the current root page id (or common.Invalid
// for an empty tree).
type Tree struct {
	pool            *bufferpool.Manager
	headerPageID    common.PageID
	leafMaxSize     int
	internalMaxSize int
	logger          *zap.Logger
}

// New creates a fresh, empty index backed by pool. leafMaxSize and
// internalMaxSize bound the respective page types' entry counts.
func New(pool *bufferpool.Manager, leafMaxSize, internalMaxSize int, logger *zap.Logger) (*Tree, error) {
	assert.Assert(leafMaxSize >= 2, "leaf max size must allow at least 2 entries, got %d", leafMaxSize)
	assert.Assert(internalMaxSize >= 3, "internal max size must allow at least 3 entries, got %d", internalMaxSize)
	if logger == nil {
		logger = zap.NewNop()
	}

	headerGuard, err := pool.NewPageBasic()
	if err != nil {
		return nil, fmt.Errorf("btree: allocating header page: %w", err)
	}
	writeRootPageID(headerGuard.Data(), common.Invalid)
	headerGuard.MarkDirty()
	headerGuard.Drop()

	return &Tree{
		pool:            pool,
		headerPageID:    headerGuard.PageID(),
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		logger:          logger,
	}, nil
}

func (t *Tree) newLeafPage() (*bufferpool.WriteGuard, common.PageID, error) {
	g, err := t.pool.NewPageWrite()
	if err != nil {
		return nil, common.Invalid, err
	}
	leaf := NewLeafPage(t.leafMaxSize)
	leaf.Marshal(g.Data())
	return g, g.PageID(), nil
}

func (t *Tree) newInternalPage() (*bufferpool.WriteGuard, common.PageID, error) {
	g, err := t.pool.NewPageWrite()
	if err != nil {
		return nil, common.Invalid, err
	}
	internal := NewInternalPage(t.internalMaxSize)
	internal.Marshal(g.Data())
	return g, g.PageID(), nil
}

func releaseAll(guards []guard) {
	for _, g := range guards {
		g.Drop()
	}
}

func peekSizeMax(buf []byte) (size, maxSize int) {
	return int(binary.LittleEndian.Uint16(buf[offSize:])), int(binary.LittleEndian.Uint16(buf[offMaxSize:]))
}

// Get looks up key, returning its value and whether it was found.
func (t *Tree) Get(key int64) (common.RecordID, bool, error) {
	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return common.RecordID{}, false, err
	}
	root := readRootPageID(headerGuard.Data())
	headerGuard.Drop()
	if root == common.Invalid {
		return common.RecordID{}, false, nil
	}

	cur := root
	for {
		g, err := t.pool.FetchPageRead(cur)
		if err != nil {
			return common.RecordID{}, false, err
		}
		if readTag(g.Data()) == tagLeaf {
			leaf := UnmarshalLeafPage(g.Data())
			v, ok := leaf.Get(key)
			g.Drop()
			return v, ok, nil
		}
		internal := UnmarshalInternalPage(g.Data())
		child := internal.ChildFor(key)
		g.Drop()
		cur = child
	}
}

// Insert places (key, value) into the tree. Returns false if key is
// already present.
func (t *Tree) Insert(key int64, value common.RecordID) (bool, error) {
	headerGuard, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}

	root := readRootPageID(headerGuard.Data())
	if root == common.Invalid {
		leafGuard, leafID, err := t.newLeafPage()
		if err != nil {
			headerGuard.Drop()
			return false, err
		}
		leaf := NewLeafPage(t.leafMaxSize)
		leaf.Insert(key, value)
		leaf.Marshal(leafGuard.Data())
		leafGuard.Drop()

		writeRootPageID(headerGuard.Data(), leafID)
		headerGuard.Drop()
		return true, nil
	}

	stack := []guard{headerGuard}
	cur := root

	for {
		g, err := t.pool.FetchPageWrite(cur)
		if err != nil {
			releaseAll(stack)
			return false, err
		}
		stack = append(stack, g)

		size, maxSize := peekSizeMax(g.Data())
		if size+1 < maxSize {
			for _, anc := range stack[:len(stack)-1] {
				anc.Drop()
			}
			stack = stack[len(stack)-1:]
		}

		if readTag(g.Data()) != tagLeaf {
			internal := UnmarshalInternalPage(g.Data())
			cur = internal.ChildFor(key)
			continue
		}

		leaf := UnmarshalLeafPage(g.Data())
		if _, exists := leaf.Get(key); exists {
			releaseAll(stack)
			return false, nil
		}

		newSize := leaf.Insert(key, value)
		assert.Assert(newSize != -1, "duplicate already checked")

		if newSize < leaf.MaxSize {
			leaf.Marshal(g.Data())
			releaseAll(stack)
			return true, nil
		}

		sibGuard, sibID, err := t.newLeafPage()
		if err != nil {
			releaseAll(stack)
			return false, err
		}
		sibling := NewLeafPage(leaf.MaxSize)
		leaf.MoveHalfTo(sibling)
		sibling.NextPageID = leaf.NextPageID
		leaf.NextPageID = sibID
		middleKey := sibling.Keys[0]

		leaf.Marshal(g.Data())
		sibling.Marshal(sibGuard.Data())
		sibGuard.Drop()

		leftID := g.PageID()
		g.Drop()
		ancestors := stack[:len(stack)-1]

		return true, t.insertInParent(ancestors, leftID, middleKey, sibID)
	}
}

// insertInParent implements spec.md §4.E's insert_in_parent: ancestors is
// the stack of write guards still held above the just-split page identified
// by leftID. It ends with the header page's guard when leftID is the root,
// and with the guard of leftID's parent otherwise.
func (t *Tree) insertInParent(ancestors []guard, leftID common.PageID, middleKey int64, rightID common.PageID) error {
	assert.Assert(len(ancestors) >= 1, "insert_in_parent always holds the parent's or the header's guard")

	if ancestors[len(ancestors)-1].PageID() == t.headerPageID {
		headerGuard := ancestors[0]
		rootGuard, newRootID, err := t.newInternalPage()
		if err != nil {
			headerGuard.Drop()
			return err
		}
		root := NewInternalPage(t.internalMaxSize)
		root.InsertFirstOf(leftID)
		root.Insert(middleKey, rightID)
		root.Marshal(rootGuard.Data())
		rootGuard.Drop()

		writeRootPageID(headerGuard.Data(), newRootID)
		headerGuard.Drop()
		return nil
	}

	parentGuard := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	parent := UnmarshalInternalPage(parentGuard.Data())
	parent.Insert(middleKey, rightID)

	if parent.Size < parent.MaxSize {
		parent.Marshal(parentGuard.Data())
		releaseAll(ancestors)
		return nil
	}

	sibGuard, sibID, err := t.newInternalPage()
	if err != nil {
		releaseAll(ancestors)
		return err
	}
	sibling := NewInternalPage(parent.MaxSize)
	parent.MoveHalfTo(sibling)
	promoted := sibling.PromoteAndClearFirst()

	parent.Marshal(parentGuard.Data())
	sibling.Marshal(sibGuard.Data())
	sibGuard.Drop()

	parentID := parentGuard.PageID()
	parentGuard.Drop()

	return t.insertInParent(rest, parentID, promoted, sibID)
}

// Remove deletes key from the tree if present; absence is a no-op.
func (t *Tree) Remove(key int64) error {
	headerGuard, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	root := readRootPageID(headerGuard.Data())
	if root == common.Invalid {
		headerGuard.Drop()
		return nil
	}

	stack := []guard{headerGuard}
	cur := root

	for {
		g, err := t.pool.FetchPageWrite(cur)
		if err != nil {
			releaseAll(stack)
			return err
		}
		stack = append(stack, g)

		size, _ := peekSizeMax(g.Data())
		minSize := minSizeFor(g.Data())
		if size-1 >= minSize {
			for _, anc := range stack[:len(stack)-1] {
				anc.Drop()
			}
			stack = stack[len(stack)-1:]
		}

		if readTag(g.Data()) != tagLeaf {
			internal := UnmarshalInternalPage(g.Data())
			cur = internal.ChildFor(key)
			continue
		}

		leaf := UnmarshalLeafPage(g.Data())
		leaf.RemoveKey(key)
		leaf.Marshal(g.Data())
		return t.removeEntry(stack, root)
	}
}

func minSizeFor(buf []byte) int {
	if readTag(buf) == tagLeaf {
		return UnmarshalLeafPage(buf).MinSize()
	}
	return UnmarshalInternalPage(buf).MinSize()
}

// removeEntry implements spec.md §4.E's remove_entry over the write-guard
// stack left by Remove's descent: stack's last element is the page the key
// was just removed from (or a deeper page during merge recursion); root is
// the current root page id as of entering Remove.
func (t *Tree) removeEntry(stack []guard, root common.PageID) error {
	g := stack[len(stack)-1]
	ancestors := stack[:len(stack)-1]
	isLeaf := readTag(g.Data()) == tagLeaf

	isRoot := g.PageID() == root
	if isRoot {
		if isLeaf {
			leaf := UnmarshalLeafPage(g.Data())
			if leaf.Size == 0 {
				headerGuard := ancestors[0]
				writeRootPageID(headerGuard.Data(), common.Invalid)
				t.pool.DeletePage(g.PageID())
				g.Drop()
				releaseAll(ancestors)
				return nil
			}
			releaseAll(stack)
			return nil
		}

		internal := UnmarshalInternalPage(g.Data())
		if internal.Size == 1 {
			headerGuard := ancestors[0]
			newRoot := internal.Children[0]
			writeRootPageID(headerGuard.Data(), newRoot)
			t.pool.DeletePage(g.PageID())
			g.Drop()
			releaseAll(ancestors)
			return nil
		}
		releaseAll(stack)
		return nil
	}

	size, _ := peekSizeMax(g.Data())
	minSize := minSizeFor(g.Data())
	if size >= minSize {
		releaseAll(stack)
		return nil
	}

	parentGuard := ancestors[len(ancestors)-1]
	parent := UnmarshalInternalPage(parentGuard.Data())

	idx := -1
	for i, c := range parent.Children {
		if c == g.PageID() {
			idx = i
			break
		}
	}
	assert.Assert(idx >= 0, "page %d must appear as a child of its parent %d", g.PageID(), parentGuard.PageID())

	var siblingIdx int
	leftOfPair := true
	if idx == 0 {
		siblingIdx = 1
		leftOfPair = true // current is the left of the (current, right-sibling) pair
	} else {
		siblingIdx = idx - 1
		leftOfPair = false // current is the right of the (left-sibling, current) pair
	}
	siblingID := parent.Children[siblingIdx]

	sibGuard, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		releaseAll(stack)
		return err
	}

	sibSize, _ := peekSizeMax(sibGuard.Data())
	sibMinSize := minSizeFor(sibGuard.Data())

	if sibSize-1 < sibMinSize {
		// Merge. Normalize so leftGuard/rightGuard name the (left, right)
		// pair in page order; leftOfPair tells us which one is g.
		var leftGuard, rightGuard guard
		var leftIdx int
		if leftOfPair {
			leftGuard, rightGuard, leftIdx = g, sibGuard, idx
		} else {
			leftGuard, rightGuard, leftIdx = sibGuard, g, siblingIdx
		}

		separatorKey := parent.Keys[leftIdx+1]

		if isLeaf {
			left := UnmarshalLeafPage(leftGuard.Data())
			right := UnmarshalLeafPage(rightGuard.Data())
			right.MoveAllTo(left)
			left.Marshal(leftGuard.Data())
		} else {
			left := UnmarshalInternalPage(leftGuard.Data())
			right := UnmarshalInternalPage(rightGuard.Data())
			right.Keys[0] = separatorKey
			right.MoveAllTo(left)
			left.Marshal(leftGuard.Data())
		}

		emptyPageID := rightGuard.PageID()
		rightGuard.Drop()
		leftGuard.Drop()

		t.pool.DeletePage(emptyPageID)

		parent.EraseAt(leftIdx + 1)
		parent.Marshal(parentGuard.Data())

		return t.removeEntry(ancestors, root)
	}

	// Borrow.
	if leftOfPair {
		// sibling is the right neighbor: steal its first entry.
		if isLeaf {
			cur := UnmarshalLeafPage(g.Data())
			sib := UnmarshalLeafPage(sibGuard.Data())
			sib.MoveFirstToEndOf(cur)
			cur.Marshal(g.Data())
			sib.Marshal(sibGuard.Data())
			parent.Keys[siblingIdx] = sib.Keys[0]
		} else {
			cur := UnmarshalInternalPage(g.Data())
			sib := UnmarshalInternalPage(sibGuard.Data())
			oldSeparator := parent.Keys[siblingIdx]
			newSeparator := sib.Keys[1]
			sib.MoveFirstToEndOf(cur)
			cur.Keys[cur.Size-1] = oldSeparator
			sib.Keys[0] = 0
			cur.Marshal(g.Data())
			sib.Marshal(sibGuard.Data())
			parent.Keys[siblingIdx] = newSeparator
		}
	} else {
		// sibling is the left neighbor: steal its last entry.
		if isLeaf {
			cur := UnmarshalLeafPage(g.Data())
			sib := UnmarshalLeafPage(sibGuard.Data())
			sib.MoveEndToFrontOf(cur)
			cur.Marshal(g.Data())
			sib.Marshal(sibGuard.Data())
			parent.Keys[idx] = cur.Keys[0]
		} else {
			cur := UnmarshalInternalPage(g.Data())
			sib := UnmarshalInternalPage(sibGuard.Data())
			oldSeparator := parent.Keys[idx]
			newSeparator := sib.Keys[sib.Size-1]
			lastChild := sib.Children[sib.Size-1]
			sib.EraseAt(sib.Size - 1)
			cur.InsertFirstOf(lastChild)
			cur.Keys[1] = oldSeparator
			cur.Marshal(g.Data())
			sib.Marshal(sibGuard.Data())
			parent.Keys[idx] = newSeparator
		}
	}

	parent.Marshal(parentGuard.Data())
	sibGuard.Drop()
	releaseAll(stack)
	return nil
}
