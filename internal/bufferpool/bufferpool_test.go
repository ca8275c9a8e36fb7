package bufferpool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/bufferpool"
	"coredb/internal/disk"
)

func newPool(t *testing.T, poolSize, k int) *bufferpool.Manager {
	t.Helper()
	d, err := disk.NewMemory(4096)
	require.NoError(t, err)
	m, err := bufferpool.New(poolSize, 4096, k, d, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewPageThenUnpinMakesItEvictable(t *testing.T) {
	m := newPool(t, 2, 2)

	f, id, err := m.NewPage()
	require.NoError(t, err)
	require.NotNil(t, f)

	require.True(t, m.UnpinPage(id, false))
	require.NoError(t, m.CheckAllUnpinned())

	// The first NewPage takes the free frame; the second can only succeed by
	// evicting the unpinned page's frame.
	_, _, err = m.NewPage()
	require.NoError(t, err)
	_, _, err = m.NewPage()
	require.NoError(t, err, "the unpinned page's frame must be evictable")
}

func TestFetchPageReusesResidentFrame(t *testing.T) {
	m := newPool(t, 2, 2)

	f1, id, err := m.NewPage()
	require.NoError(t, err)
	copy(f1.Data, []byte("payload"))
	require.True(t, m.UnpinPage(id, true))

	f2, err := m.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, f1, f2)
	require.Equal(t, byte('p'), f2.Data[0])
	require.True(t, m.UnpinPage(id, false))
}

func TestPoolExhaustionWithNoEvictableFrames(t *testing.T) {
	m := newPool(t, 1, 2)

	_, _, err := m.NewPage()
	require.NoError(t, err)

	_, _, err = m.NewPage()
	require.Error(t, err, "sole frame is still pinned, nothing to evict")
}

func TestEvictionWritesBackDirtyVictim(t *testing.T) {
	m := newPool(t, 1, 2)

	f1, id1, err := m.NewPage()
	require.NoError(t, err)
	copy(f1.Data, []byte("dirty-data"))
	require.True(t, m.UnpinPage(id1, true))

	_, id2, err := m.NewPage()
	require.NoError(t, err)
	require.True(t, m.UnpinPage(id2, false))

	f1Again, err := m.FetchPage(id1)
	require.NoError(t, err)
	require.Equal(t, byte('d'), f1Again.Data[0])
	require.True(t, m.UnpinPage(id1, false))
}

func TestDeletePageRejectsPinned(t *testing.T) {
	m := newPool(t, 2, 2)

	_, id, err := m.NewPage()
	require.NoError(t, err)
	require.False(t, m.DeletePage(id))

	require.True(t, m.UnpinPage(id, false))
	require.True(t, m.DeletePage(id))
}

func TestFlushAllPagesClearsDirtyFlags(t *testing.T) {
	m := newPool(t, 2, 2)

	f, id, err := m.NewPage()
	require.NoError(t, err)
	copy(f.Data, []byte("flush-me"))
	require.True(t, m.UnpinPage(id, true))

	require.NoError(t, m.FlushAllPages())
	require.False(t, f.Dirty)
	require.NoError(t, m.FlushAllPages())
}

func TestWriteGuardMarksDirtyOnConstruction(t *testing.T) {
	m := newPool(t, 2, 2)

	g, err := m.NewPageWrite()
	require.NoError(t, err)
	id := g.PageID()
	copy(g.Data(), []byte("guarded"))
	g.Drop()

	f, err := m.FetchPage(id)
	require.NoError(t, err)
	require.True(t, f.Dirty, "a dropped write guard leaves its page dirty")
	require.True(t, m.UnpinPage(id, false))

	rg, err := m.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, byte('g'), rg.Data()[0])
	rg.Drop()

	require.NoError(t, m.CheckAllUnpinned())
}

func TestCheckAllUnpinnedReportsLeak(t *testing.T) {
	m := newPool(t, 2, 2)

	_, _, err := m.NewPage()
	require.NoError(t, err)

	require.Error(t, m.CheckAllUnpinned())
}
