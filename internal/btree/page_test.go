package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/common"
)

func TestLeafPageInsertKeepsSortedOrder(t *testing.T) {
	p := NewLeafPage(8)
	p.Insert(5, common.RecordID{PageID: 5})
	p.Insert(1, common.RecordID{PageID: 1})
	p.Insert(3, common.RecordID{PageID: 3})

	require.Equal(t, []int64{1, 3, 5}, p.Keys)
}

func TestLeafPageMarshalRoundTrip(t *testing.T) {
	p := NewLeafPage(8)
	p.Insert(2, common.RecordID{PageID: 20, SlotID: 1})
	p.NextPageID = common.PageID(99)

	buf := make([]byte, 4096)
	p.Marshal(buf)

	got := UnmarshalLeafPage(buf)
	require.Equal(t, p.Size, got.Size)
	require.Equal(t, p.Keys, got.Keys)
	require.Equal(t, p.Values, got.Values)
	require.Equal(t, p.NextPageID, got.NextPageID)
}

func TestLeafPageMoveHalfToSplitsEvenly(t *testing.T) {
	p := NewLeafPage(8)
	for i := int64(0); i < 6; i++ {
		p.Insert(i, common.RecordID{PageID: common.PageID(i)})
	}
	sibling := NewLeafPage(8)
	p.MoveHalfTo(sibling)

	require.Equal(t, 3, p.Size)
	require.Equal(t, 3, sibling.Size)
	require.Equal(t, []int64{0, 1, 2}, p.Keys)
	require.Equal(t, []int64{3, 4, 5}, sibling.Keys)
}

func TestInternalPageLookupFindsChildIndex(t *testing.T) {
	p := NewInternalPage(8)
	p.InsertFirstOf(common.PageID(100))
	p.Insert(10, common.PageID(200))
	p.Insert(20, common.PageID(300))

	require.Equal(t, common.PageID(100), p.ChildFor(5))
	require.Equal(t, common.PageID(200), p.ChildFor(15))
	require.Equal(t, common.PageID(300), p.ChildFor(25))
}

func TestInternalPageMarshalRoundTrip(t *testing.T) {
	p := NewInternalPage(8)
	p.InsertFirstOf(common.PageID(1))
	p.Insert(7, common.PageID(2))

	buf := make([]byte, 4096)
	p.Marshal(buf)

	got := UnmarshalInternalPage(buf)
	require.Equal(t, p.Keys, got.Keys)
	require.Equal(t, p.Children, got.Children)
}

func TestInternalPagePromoteAndClearFirst(t *testing.T) {
	p := NewInternalPage(8)
	p.Keys = []int64{42}
	p.Children = []common.PageID{1}
	p.Size = 1

	got := p.PromoteAndClearFirst()
	require.Equal(t, int64(42), got)
	require.Equal(t, int64(0), p.Keys[0])
}
