package btree

import (
	"coredb/internal/bufferpool"
	"coredb/internal/common"
)

// Iterator is a forward cursor over the tree's leaves in ascending key
// order. The zero value produced by End holds no guard and is the unique
// terminal sentinel (Valid reports false).
type Iterator struct {
	tree  *Tree
	guard *bufferpool.BasicGuard
	leaf  *LeafPage
	idx   int
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *Tree) Begin() (*Iterator, error) {
	return t.seek(nil)
}

// BeginAt returns an iterator positioned at the smallest key >= key.
func (t *Tree) BeginAt(key int64) (*Iterator, error) {
	return t.seek(&key)
}

// End returns the terminal sentinel iterator.
func (t *Tree) End() *Iterator {
	return &Iterator{tree: t}
}

func (t *Tree) seek(key *int64) (*Iterator, error) {
	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := readRootPageID(headerGuard.Data())
	headerGuard.Drop()
	if root == common.Invalid {
		return t.End(), nil
	}

	cur := root
	for {
		rg, err := t.pool.FetchPageRead(cur)
		if err != nil {
			return nil, err
		}
		if readTag(rg.Data()) == tagLeaf {
			bg, err := t.pool.FetchPageBasic(cur)
			rg.Drop()
			if err != nil {
				return nil, err
			}
			leaf := UnmarshalLeafPage(bg.Data())
			idx := 0
			if key != nil {
				idx = leaf.Lookup(*key)
			}
			it := &Iterator{tree: t, guard: bg, leaf: leaf, idx: idx}
			if idx > 0 && idx == leaf.Size {
				// Every key in this leaf is below *key; continue at the
				// first entry of the next leaf, if any.
				it.idx = idx - 1
				if err := it.Next(); err != nil {
					return nil, err
				}
			}
			return it, nil
		}

		internal := UnmarshalInternalPage(rg.Data())
		var child common.PageID
		if key != nil {
			child = internal.ChildFor(*key)
		} else {
			child = internal.Children[0]
		}
		rg.Drop()
		cur = child
	}
}

// Valid reports whether the iterator is positioned at a real entry.
func (it *Iterator) Valid() bool {
	return it.guard != nil && it.idx < it.leaf.Size
}

// Key returns the current entry's key. Only valid when Valid() is true.
func (it *Iterator) Key() int64 { return it.leaf.Keys[it.idx] }

// Value returns the current entry's record id. Only valid when Valid() is
// true.
func (it *Iterator) Value() common.RecordID { return it.leaf.Values[it.idx] }

// Next advances the iterator, crossing into the next leaf via its
// next-page pointer when the current leaf is exhausted.
func (it *Iterator) Next() error {
	if it.guard == nil {
		return nil
	}

	it.idx++
	if it.idx < it.leaf.Size {
		return nil
	}

	next := it.leaf.NextPageID
	it.guard.Drop()
	if next == common.Invalid {
		it.guard, it.leaf, it.idx = nil, nil, 0
		return nil
	}

	bg, err := it.tree.pool.FetchPageBasic(next)
	if err != nil {
		it.guard, it.leaf, it.idx = nil, nil, 0
		return err
	}
	it.guard = bg
	it.leaf = UnmarshalLeafPage(bg.Data())
	it.idx = 0
	return nil
}

// Close releases the iterator's held guard, if any. Safe to call multiple
// times and on an already-exhausted iterator.
func (it *Iterator) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
}
