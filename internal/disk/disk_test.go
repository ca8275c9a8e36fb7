package disk_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"coredb/internal/common"
	"coredb/internal/disk"
)

func TestReadWriteRoundTrip(t *testing.T) {
	m, err := disk.NewMemory(4096)
	require.NoError(t, err)

	id := m.AllocatePageID()
	buf := make([]byte, 4096)
	copy(buf, []byte("hello page"))

	require.NoError(t, m.WritePage(id, buf))

	got := make([]byte, 4096)
	require.NoError(t, m.ReadPage(id, got))
	require.Equal(t, buf, got)
}

func TestReadBeforeWriteIsZeroed(t *testing.T) {
	m, err := disk.NewMemory(4096)
	require.NoError(t, err)

	id := m.AllocatePageID()
	buf := make([]byte, 4096)
	require.NoError(t, m.ReadPage(id, buf))

	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestAllocatePageIDMonotonic(t *testing.T) {
	m, err := disk.NewMemory(4096)
	require.NoError(t, err)

	a := m.AllocatePageID()
	b := m.AllocatePageID()
	require.Less(t, int64(a), int64(b))
}

func TestDeallocatePage(t *testing.T) {
	m, err := disk.NewMemory(4096)
	require.NoError(t, err)

	id := m.AllocatePageID()
	require.False(t, m.Deallocated(id))
	m.DeallocatePage(id)
	require.True(t, m.Deallocated(id))
}

var _ common.DiskManager = (*disk.Manager)(nil)
