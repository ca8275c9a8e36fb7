// Package btree implements the B+Tree index from spec.md §4.D/§4.E: fixed
// max-size internal and leaf pages addressed through the buffer pool, with
// crabbing-latch descent for search, insert, and delete.
//
// Keys are int64 and values are common.RecordID, the same narrow,
// fixed-width convention the teaching-database lineage this spec descends
// from uses (GenericKey/RID) — it keeps every page a fixed-width byte
// layout, which is what lets lookup/insert/split operate by index
// arithmetic instead of variable-length parsing.
package btree

import (
	"encoding/binary"

	"coredb/internal/common"
)

type pageTag uint8

const (
	tagInternal pageTag = 1
	tagLeaf     pageTag = 2
)

// Common header: 1 byte tag, 2 bytes size, 2 bytes maxSize. Leaf pages
// additionally carry an 8-byte nextPageID immediately after.
const (
	offTag      = 0
	offSize     = 1
	offMaxSize  = 3
	headerWidth = 5

	leafOffNext   = headerWidth
	leafBodyStart = leafOffNext + 8

	internalBodyStart = headerWidth
)

const (
	internalEntryWidth = 16 // int64 key + int64 child page id
	leafEntryWidth     = 20 // int64 key + int64 record page id + uint32 slot id
)

func readTag(buf []byte) pageTag { return pageTag(buf[offTag]) }

// InternalPage is the decoded, in-memory form of a B+Tree internal node.
// Keys[0] is unused (pointer-only entry), so the effective key count is
// Size-1; Children[i] is the subtree for keys in [Keys[i], Keys[i+1]).
type InternalPage struct {
	Size     int
	MaxSize  int
	Keys     []int64
	Children []common.PageID
}

// NewInternalPage builds an empty internal page shell with the given
// maximum entry count.
func NewInternalPage(maxSize int) *InternalPage {
	return &InternalPage{MaxSize: maxSize}
}

// MinSize is ⌈MaxSize/2⌉ per spec.md §3.
func (p *InternalPage) MinSize() int { return (p.MaxSize + 1) / 2 }

// Lookup returns the smallest i in [1, Size) with key <= Keys[i], or Size
// if none. The child to descend into is Children[i-1].
func (p *InternalPage) Lookup(key int64) int {
	for i := 1; i < p.Size; i++ {
		if key <= p.Keys[i] {
			return i
		}
	}
	return p.Size
}

// ChildFor returns the child page id to descend into for key.
func (p *InternalPage) ChildFor(key int64) common.PageID {
	i := p.Lookup(key)
	if i < p.Size && p.Keys[i] == key {
		return p.Children[i]
	}
	return p.Children[i-1]
}

// Insert places (key, child) into sorted position among entries
// [1, Size), shifting subsequent entries right.
func (p *InternalPage) Insert(key int64, child common.PageID) {
	i := 1
	for i < p.Size && p.Keys[i] < key {
		i++
	}
	p.Keys = append(p.Keys, 0)
	p.Children = append(p.Children, 0)
	copy(p.Keys[i+1:], p.Keys[i:p.Size])
	copy(p.Children[i+1:], p.Children[i:p.Size])
	p.Keys[i] = key
	p.Children[i] = child
	p.Size++
}

// InsertFirstOf prepends a pointer-only entry (used when building a fresh
// root over an existing left subtree).
func (p *InternalPage) InsertFirstOf(child common.PageID) {
	p.Keys = append([]int64{0}, p.Keys...)
	p.Children = append([]common.PageID{child}, p.Children...)
	p.Size++
}

// EraseAt removes the entry at index i.
func (p *InternalPage) EraseAt(i int) {
	p.Keys = append(p.Keys[:i], p.Keys[i+1:]...)
	p.Children = append(p.Children[:i], p.Children[i+1:]...)
	p.Size--
}

func (p *InternalPage) SetKeyAt(i int, k int64)            { p.Keys[i] = k }
func (p *InternalPage) SetValueAt(i int, v common.PageID)  { p.Children[i] = v }

// MoveHalfTo transfers the upper half of entries to other, which must be
// empty. The caller is responsible for promoting the separator key
// (Keys[mid] of the original page) to the parent.
func (p *InternalPage) MoveHalfTo(other *InternalPage) {
	mid := p.Size / 2
	other.Keys = append(other.Keys, p.Keys[mid:]...)
	other.Children = append(other.Children, p.Children[mid:]...)
	other.Size = len(other.Keys)

	p.Keys = p.Keys[:mid]
	p.Children = p.Children[:mid]
	p.Size = mid
}

// MoveAllTo appends all of p's entries to other, used during merges.
func (p *InternalPage) MoveAllTo(other *InternalPage) {
	other.Keys = append(other.Keys, p.Keys...)
	other.Children = append(other.Children, p.Children...)
	other.Size = len(other.Keys)
	p.Keys, p.Children, p.Size = nil, nil, 0
}

// PromoteAndClearFirst reads p's entry-0 key (real after a split moved it
// into position 0) and zeroes it, restoring the pointer-only convention for
// entry 0. The caller promotes the returned key to the parent.
func (p *InternalPage) PromoteAndClearFirst() int64 {
	key := p.Keys[0]
	p.Keys[0] = 0
	return key
}

// MoveFirstToEndOf moves p's first entry to the end of other, used when
// borrowing from a right sibling.
func (p *InternalPage) MoveFirstToEndOf(other *InternalPage) {
	other.Keys = append(other.Keys, p.Keys[0])
	other.Children = append(other.Children, p.Children[0])
	other.Size++
	p.Keys = p.Keys[1:]
	p.Children = p.Children[1:]
	p.Size--
}

// Marshal encodes p into buf, which must be at least the page size.
func (p *InternalPage) Marshal(buf []byte) {
	buf[offTag] = byte(tagInternal)
	binary.LittleEndian.PutUint16(buf[offSize:], uint16(p.Size))
	binary.LittleEndian.PutUint16(buf[offMaxSize:], uint16(p.MaxSize))
	for i := 0; i < p.Size; i++ {
		off := internalBodyStart + i*internalEntryWidth
		binary.LittleEndian.PutUint64(buf[off:], uint64(p.Keys[i]))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(p.Children[i]))
	}
}

// UnmarshalInternalPage decodes an internal page from buf.
func UnmarshalInternalPage(buf []byte) *InternalPage {
	size := int(binary.LittleEndian.Uint16(buf[offSize:]))
	maxSize := int(binary.LittleEndian.Uint16(buf[offMaxSize:]))
	p := &InternalPage{Size: size, MaxSize: maxSize, Keys: make([]int64, size), Children: make([]common.PageID, size)}
	for i := 0; i < size; i++ {
		off := internalBodyStart + i*internalEntryWidth
		p.Keys[i] = int64(binary.LittleEndian.Uint64(buf[off:]))
		p.Children[i] = common.PageID(binary.LittleEndian.Uint64(buf[off+8:]))
	}
	return p
}

// LeafPage is the decoded, in-memory form of a B+Tree leaf node: sorted
// (key, record id) pairs plus a forward pointer to the next leaf.
type LeafPage struct {
	Size       int
	MaxSize    int
	NextPageID common.PageID
	Keys       []int64
	Values     []common.RecordID
}

// NewLeafPage builds an empty leaf page shell with the given maximum entry
// count.
func NewLeafPage(maxSize int) *LeafPage {
	return &LeafPage{MaxSize: maxSize, NextPageID: common.Invalid}
}

// MinSize is ⌈(MaxSize-1)/2⌉ per spec.md §3.
func (p *LeafPage) MinSize() int { return p.MaxSize / 2 }

// Lookup returns the smallest i with key <= Keys[i], or Size if none.
func (p *LeafPage) Lookup(key int64) int {
	for i := 0; i < p.Size; i++ {
		if key <= p.Keys[i] {
			return i
		}
	}
	return p.Size
}

// Get returns the value for key and whether it was present.
func (p *LeafPage) Get(key int64) (common.RecordID, bool) {
	i := p.Lookup(key)
	if i < p.Size && p.Keys[i] == key {
		return p.Values[i], true
	}
	return common.RecordID{}, false
}

// Insert places (key, value) into sorted order. Returns the new size, or
// -1 if key is already present.
func (p *LeafPage) Insert(key int64, value common.RecordID) int {
	i := p.Lookup(key)
	if i < p.Size && p.Keys[i] == key {
		return -1
	}
	p.Keys = append(p.Keys, 0)
	p.Values = append(p.Values, common.RecordID{})
	copy(p.Keys[i+1:], p.Keys[i:p.Size])
	copy(p.Values[i+1:], p.Values[i:p.Size])
	p.Keys[i] = key
	p.Values[i] = value
	p.Size++
	return p.Size
}

// RemoveAt deletes the entry at index i.
func (p *LeafPage) RemoveAt(i int) {
	p.Keys = append(p.Keys[:i], p.Keys[i+1:]...)
	p.Values = append(p.Values[:i], p.Values[i+1:]...)
	p.Size--
}

// RemoveKey deletes key if present, reporting whether it was found.
func (p *LeafPage) RemoveKey(key int64) bool {
	i := p.Lookup(key)
	if i < p.Size && p.Keys[i] == key {
		p.RemoveAt(i)
		return true
	}
	return false
}

// MoveHalfTo transfers the upper half of entries to other, which must be
// empty. Neither page's NextPageID is changed; the caller links other into
// the leaf chain.
func (p *LeafPage) MoveHalfTo(other *LeafPage) {
	mid := (p.Size + 1) / 2
	other.Keys = append(other.Keys, p.Keys[mid:]...)
	other.Values = append(other.Values, p.Values[mid:]...)
	other.Size = len(other.Keys)

	p.Keys = p.Keys[:mid]
	p.Values = p.Values[:mid]
	p.Size = mid
}

// MoveAllTo appends all of p's entries to other and carries over the next
// pointer, used during leaf merges.
func (p *LeafPage) MoveAllTo(other *LeafPage) {
	other.Keys = append(other.Keys, p.Keys...)
	other.Values = append(other.Values, p.Values...)
	other.Size = len(other.Keys)
	other.NextPageID = p.NextPageID
	p.Keys, p.Values, p.Size = nil, nil, 0
}

// MoveFirstToEndOf moves p's first entry to the end of other (borrow from
// right sibling).
func (p *LeafPage) MoveFirstToEndOf(other *LeafPage) {
	other.Keys = append(other.Keys, p.Keys[0])
	other.Values = append(other.Values, p.Values[0])
	other.Size++
	p.Keys = p.Keys[1:]
	p.Values = p.Values[1:]
	p.Size--
}

// MoveEndToFrontOf moves p's last entry to the front of other (borrow from
// left sibling).
func (p *LeafPage) MoveEndToFrontOf(other *LeafPage) {
	last := p.Size - 1
	other.Keys = append([]int64{p.Keys[last]}, other.Keys...)
	other.Values = append([]common.RecordID{p.Values[last]}, other.Values...)
	other.Size++
	p.Keys = p.Keys[:last]
	p.Values = p.Values[:last]
	p.Size--
}

// Marshal encodes p into buf, which must be at least the page size.
func (p *LeafPage) Marshal(buf []byte) {
	buf[offTag] = byte(tagLeaf)
	binary.LittleEndian.PutUint16(buf[offSize:], uint16(p.Size))
	binary.LittleEndian.PutUint16(buf[offMaxSize:], uint16(p.MaxSize))
	binary.LittleEndian.PutUint64(buf[leafOffNext:], uint64(p.NextPageID))
	for i := 0; i < p.Size; i++ {
		off := leafBodyStart + i*leafEntryWidth
		binary.LittleEndian.PutUint64(buf[off:], uint64(p.Keys[i]))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(p.Values[i].PageID))
		binary.LittleEndian.PutUint32(buf[off+16:], p.Values[i].SlotID)
	}
}

// UnmarshalLeafPage decodes a leaf page from buf.
func UnmarshalLeafPage(buf []byte) *LeafPage {
	size := int(binary.LittleEndian.Uint16(buf[offSize:]))
	maxSize := int(binary.LittleEndian.Uint16(buf[offMaxSize:]))
	next := common.PageID(binary.LittleEndian.Uint64(buf[leafOffNext:]))
	p := &LeafPage{Size: size, MaxSize: maxSize, NextPageID: next, Keys: make([]int64, size), Values: make([]common.RecordID, size)}
	for i := 0; i < size; i++ {
		off := leafBodyStart + i*leafEntryWidth
		p.Keys[i] = int64(binary.LittleEndian.Uint64(buf[off:]))
		p.Values[i] = common.RecordID{
			PageID: common.PageID(binary.LittleEndian.Uint64(buf[off+8:])),
			SlotID: binary.LittleEndian.Uint32(buf[off+16:]),
		}
	}
	return p
}
