package replacer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/replacer"
)

func TestEvictPrefersInfiniteDistance(t *testing.T) {
	r := replacer.New(3, 2)

	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.RecordAccess(2))
	require.NoError(t, r.RecordAccess(3))
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	r.SetEvictable(3, true)

	// Frame 1 accumulates K=2 accesses; frames 2 and 3 stay at 1 access
	// (infinite distance), so either 2 or 3 should be evicted first.
	require.NoError(t, r.RecordAccess(1))

	victim, ok := r.Evict()
	require.True(t, ok)
	require.Contains(t, []int64{2, 3}, victim)
}

func TestEvictOldestAmongFiniteHistories(t *testing.T) {
	r := replacer.New(3, 2)

	for _, f := range []int64{1, 2, 3} {
		require.NoError(t, r.RecordAccess(f))
		require.NoError(t, r.RecordAccess(f))
		r.SetEvictable(f, true)
	}
	// All three now have exactly K=2 accesses; frame 1's accesses are the
	// oldest (recorded first), so it has the largest backward-k-distance.
	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(1), victim)
}

func TestSetEvictableGatesEviction(t *testing.T) {
	r := replacer.New(2, 2)
	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.RecordAccess(2))

	_, ok := r.Evict()
	require.False(t, ok, "nothing is evictable yet")

	r.SetEvictable(1, true)
	victim, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, int64(1), victim)
}

func TestReplacerFullRejectsNewFrame(t *testing.T) {
	r := replacer.New(1, 2)
	require.NoError(t, r.RecordAccess(1))
	require.ErrorIs(t, r.RecordAccess(2), replacer.ErrReplacerFull)
}

func TestRemoveForciblyDropsEvictableFrame(t *testing.T) {
	r := replacer.New(2, 2)
	require.NoError(t, r.RecordAccess(1))
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())

	r.Remove(1)
	require.Equal(t, 0, r.Size())
}

func TestSize(t *testing.T) {
	r := replacer.New(2, 2)
	require.NoError(t, r.RecordAccess(1))
	require.NoError(t, r.RecordAccess(2))
	require.Equal(t, 0, r.Size())

	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	require.Equal(t, 2, r.Size())

	r.SetEvictable(1, false)
	require.Equal(t, 1, r.Size())
}
