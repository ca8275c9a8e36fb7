package btree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/btree"
	"coredb/internal/bufferpool"
	"coredb/internal/common"
	"coredb/internal/disk"
)

func newTree(t *testing.T, leafMax, internalMax int) *btree.Tree {
	t.Helper()
	d, err := disk.NewMemory(4096)
	require.NoError(t, err)
	pool, err := bufferpool.New(64, 4096, 2, d, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	tree, err := btree.New(pool, leafMax, internalMax, nil)
	require.NoError(t, err)
	return tree
}

func rid(page int64) common.RecordID {
	return common.RecordID{PageID: common.PageID(page), SlotID: 0}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	tree := newTree(t, 4, 4)

	ok, err := tree.Insert(10, rid(100))
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := tree.Get(10)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rid(100), v)
}

func TestInsertDuplicateRejected(t *testing.T) {
	tree := newTree(t, 4, 4)

	ok, err := tree.Insert(5, rid(1))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(5, rid(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingKey(t *testing.T) {
	tree := newTree(t, 4, 4)
	_, found, err := tree.Get(42)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLeafSplitOnOverflow(t *testing.T) {
	tree := newTree(t, 4, 4)

	for i := int64(0); i < 20; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < 20; i++ {
		v, found, err := tree.Get(i)
		require.NoError(t, err)
		require.True(t, found, "key %d should be present", i)
		require.Equal(t, rid(i), v)
	}
}

func TestIteratorVisitsKeysInOrder(t *testing.T) {
	tree := newTree(t, 4, 4)

	keys := []int64{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	for _, k := range keys {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var seen []int64
	for it.Valid() {
		seen = append(seen, it.Key())
		require.NoError(t, it.Next())
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestBeginAtSeeksToKey(t *testing.T) {
	tree := newTree(t, 4, 4)

	for i := int64(0); i < 10; i += 2 {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.BeginAt(5)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	require.Equal(t, int64(6), it.Key())
}

func TestRemoveThenMissing(t *testing.T) {
	tree := newTree(t, 4, 4)

	for i := int64(0); i < 20; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < 20; i += 2 {
		require.NoError(t, tree.Remove(i))
	}

	for i := int64(0); i < 20; i++ {
		_, found, err := tree.Get(i)
		require.NoError(t, err)
		require.Equal(t, i%2 != 0, found, "key %d", i)
	}
}

func TestRemoveMissingKeyIsNoOp(t *testing.T) {
	tree := newTree(t, 4, 4)
	require.NoError(t, tree.Remove(999))
}

func TestRemoveAllEmptiesTree(t *testing.T) {
	tree := newTree(t, 4, 4)

	for i := int64(0); i < 12; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := int64(0); i < 12; i++ {
		require.NoError(t, tree.Remove(i))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.False(t, it.Valid())
	it.Close()
}
