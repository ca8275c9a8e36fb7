package txns_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coredb/internal/common"
	"coredb/internal/txns"
)

func TestSharedLocksAreCompatible(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()

	a := mgr.Begin(common.RepeatableRead)
	b := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.S, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockTable(b, txns.S, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExclusiveBlocksUntilReleased(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()

	a := mgr.Begin(common.RepeatableRead)
	b := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.X, 1)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		ok, err := lm.LockTable(b, txns.S, 1)
		require.NoError(t, err)
		require.True(t, ok)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("b should not have been granted while a holds X")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lm.UnlockTable(a, 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("b should have been granted after a released")
	}
}

func TestReadUncommittedRejectsSharedLock(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.ReadUncommitted)

	_, err := lm.LockTable(a, txns.S, 1)
	require.ErrorIs(t, err, common.ErrLockSharedOnReadUncommitted)
	require.Equal(t, common.Aborted, a.State())
}

func TestLockOnShrinkingIsRejected(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.X, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lm.UnlockTable(a, 1))
	require.Equal(t, common.Shrinking, a.State())

	_, err = lm.LockTable(a, txns.X, 2)
	require.ErrorIs(t, err, common.ErrLockOnShrinking)
}

func TestUpgradeLockSucceeds(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.S, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockTable(a, txns.X, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIncompatibleUpgradeIsRejected(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.X, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = lm.LockTable(a, txns.S, 1)
	require.ErrorIs(t, err, common.ErrIncompatibleUpgrade)
}

func TestRowLockRequiresTableLock(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	_, err := lm.LockRow(a, txns.S, 1, common.RecordID{PageID: 1})
	require.ErrorIs(t, err, common.ErrTableLockNotPresent)
}

func TestIntentionLockOnRowIsRejected(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	_, err := lm.LockRow(a, txns.IS, 1, common.RecordID{PageID: 1})
	require.ErrorIs(t, err, common.ErrAttemptedIntentionLockOnRow)
}

func TestUnlockTableBeforeRowsIsRejected(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.IX, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockRow(a, txns.X, 1, common.RecordID{PageID: 1})
	require.NoError(t, err)
	require.True(t, ok)

	err = lm.UnlockTable(a, 1)
	require.ErrorIs(t, err, common.ErrTableUnlockedBeforeUnlockingRows)
}

func TestUnlockWithoutHoldingIsRejected(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()
	a := mgr.Begin(common.RepeatableRead)

	err := lm.UnlockTable(a, 1)
	require.ErrorIs(t, err, common.ErrAttemptedUnlockButNoLockHeld)
}

func TestDeadlockDetectorAbortsYoungest(t *testing.T) {
	mgr := txns.NewManager(nil)
	lm := mgr.LockManager()

	a := mgr.Begin(common.RepeatableRead)
	b := mgr.Begin(common.RepeatableRead)

	ok, err := lm.LockTable(a, txns.X, 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = lm.LockTable(b, txns.X, 2)
	require.NoError(t, err)
	require.True(t, ok)

	okCh := make(chan bool, 2)
	go func() {
		ok, _ := lm.LockTable(a, txns.X, 2)
		okCh <- ok
	}()
	go func() {
		ok, _ := lm.LockTable(b, txns.X, 1)
		okCh <- ok
	}()

	detector := txns.NewDeadlockDetector(mgr, 10*time.Millisecond)
	detector.Start(context.Background())
	defer detector.Stop()

	var granted, denied int
	for i := 0; i < 2; i++ {
		select {
		case ok := <-okCh:
			if ok {
				granted++
			} else {
				denied++
			}
		case <-time.After(2 * time.Second):
			t.Fatal("deadlock was not resolved in time")
		}
	}
	require.Equal(t, 1, denied, "exactly one transaction should be forced to abort")
	require.Equal(t, 1, granted, "the survivor should get the lock after the victim aborts")
	require.Equal(t, common.Aborted, b.State(), "b has the higher txn id and is the victim")
}
