package txns

import (
	"sync"

	"go.uber.org/zap"

	"coredb/internal/common"
)

type rowKey struct {
	oid int64
	rid common.RecordID
}

// LockManager is the hierarchical strict-2PL lock manager from spec.md
// §4.F. Grounded on the teacher's lockManager[LockModeType, ID] in
// _teacher_ref/src/txns/manager.go: one mutex guards each top-level map,
// and every resource gets its own mutex+condition-variable queue; callers
// always acquire a map mutex, fetch or create the queue pointer, then
// release the map mutex before touching the queue — map-mutex-then-
// queue-mutex, never the reverse, per spec.md §5.
type LockManager struct {
	tableMu     sync.Mutex
	tableQueues map[int64]*queue

	rowMu     sync.Mutex
	rowQueues map[rowKey]*queue

	abort func(common.TxnID) error
	logger *zap.Logger
}

// NewLockManager builds a lock manager. abort is called to transition a
// transaction to ABORTED and wake its waiters; in production this is
// (*Manager).Abort, wired after both are constructed to avoid an import
// cycle between the lock manager and the transaction manager.
func NewLockManager(logger *zap.Logger) *LockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockManager{
		tableQueues: make(map[int64]*queue),
		rowQueues:   make(map[rowKey]*queue),
		logger:      logger,
	}
}

// BindAbort wires the transaction manager's Abort into the lock manager;
// abortWith calls it to abort a transaction that violates a locking
// precondition.
func (lm *LockManager) BindAbort(abort func(common.TxnID) error) { lm.abort = abort }

func (lm *LockManager) tableQueueFor(oid int64) *queue {
	lm.tableMu.Lock()
	defer lm.tableMu.Unlock()
	q, ok := lm.tableQueues[oid]
	if !ok {
		q = newQueue()
		lm.tableQueues[oid] = q
	}
	return q
}

func (lm *LockManager) rowQueueFor(key rowKey) *queue {
	lm.rowMu.Lock()
	defer lm.rowMu.Unlock()
	q, ok := lm.rowQueues[key]
	if !ok {
		q = newQueue()
		lm.rowQueues[key] = q
	}
	return q
}

// LockTable acquires mode on table oid for txn, blocking until granted,
// denied, or the transaction is aborted (by itself or the deadlock
// detector). Returns (false, nil) when txn is already aborted on entry or is
// aborted while waiting; every precondition violation returns a *LockError.
func (lm *LockManager) LockTable(txn *Transaction, mode LockMode, oid int64) (bool, error) {
	if txn.State() == common.Aborted {
		return false, nil
	}

	if err := lm.validateAcquire(txn, mode); err != nil {
		return false, err
	}

	q := lm.tableQueueFor(oid)
	q.mu.Lock()

	if cur := q.findByTxn(txn.ID()); cur != nil && cur.granted {
		if cur.mode == mode {
			q.mu.Unlock()
			return true, nil
		}
		if !CanUpgrade(cur.mode, mode) {
			q.mu.Unlock()
			return lm.abortWith(txn, common.ErrIncompatibleUpgrade)
		}
		if q.hasUpgrade && q.upgrading != txn.ID() {
			q.mu.Unlock()
			return lm.abortWith(txn, common.ErrUpgradeConflict)
		}
		q.removeByTxn(txn.ID())
		q.upgrading = txn.ID()
		q.hasUpgrade = true
		txn.removeTableLock(oid, cur.mode)
	}

	r := &request{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, r)
	q.tryGrant()

	ok := lm.waitForGrant(txn, q, r)
	if !ok {
		q.mu.Unlock()
		return false, nil
	}

	if q.hasUpgrade && q.upgrading == txn.ID() {
		q.hasUpgrade = false
		q.upgrading = 0
	}
	q.mu.Unlock()

	txn.addTableLock(oid, mode)
	return true, nil
}

// LockRow acquires mode on (oid, rid) for txn. IS/IX/SIX are never valid
// on rows; S/X additionally require the corresponding table-level lock.
func (lm *LockManager) LockRow(txn *Transaction, mode LockMode, oid int64, rid common.RecordID) (bool, error) {
	if txn.State() == common.Aborted {
		return false, nil
	}
	if IsIntentionMode(mode) {
		return lm.abortWith(txn, common.ErrAttemptedIntentionLockOnRow)
	}
	if err := lm.validateAcquire(txn, mode); err != nil {
		return false, err
	}

	var required []LockMode
	if mode == S {
		required = []LockMode{IS, IX, S, SIX, X}
	} else {
		required = []LockMode{IX, SIX, X}
	}
	if !txn.hasAnyTableLockIn(oid, required...) {
		return lm.abortWith(txn, common.ErrTableLockNotPresent)
	}

	key := rowKey{oid: oid, rid: rid}
	q := lm.rowQueueFor(key)
	q.mu.Lock()

	if cur := q.findByTxn(txn.ID()); cur != nil && cur.granted {
		if cur.mode == mode {
			q.mu.Unlock()
			return true, nil
		}
		if !CanUpgrade(cur.mode, mode) {
			q.mu.Unlock()
			return lm.abortWith(txn, common.ErrIncompatibleUpgrade)
		}
		if q.hasUpgrade && q.upgrading != txn.ID() {
			q.mu.Unlock()
			return lm.abortWith(txn, common.ErrUpgradeConflict)
		}
		q.removeByTxn(txn.ID())
		q.upgrading = txn.ID()
		q.hasUpgrade = true
		txn.removeRowLock(oid, rid, cur.mode)
	}

	r := &request{txnID: txn.ID(), mode: mode}
	q.requests = append(q.requests, r)
	q.tryGrant()

	ok := lm.waitForGrant(txn, q, r)
	if !ok {
		q.mu.Unlock()
		return false, nil
	}

	if q.hasUpgrade && q.upgrading == txn.ID() {
		q.hasUpgrade = false
		q.upgrading = 0
	}
	q.mu.Unlock()

	txn.addRowLock(oid, rid, mode)
	return true, nil
}

// waitForGrant blocks until r is granted or txn aborts. On abort it
// removes r from the queue and re-runs the grant algorithm so downstream
// waiters aren't stuck behind a withdrawn request. Caller holds q.mu and
// continues to hold it on return; the caller must unlock.
func (lm *LockManager) waitForGrant(txn *Transaction, q *queue, r *request) bool {
	txn.waitMu.Lock()
	txn.waitQueue = q
	txn.waitMu.Unlock()

	for !r.granted && txn.State() != common.Aborted {
		q.cond.Wait()
	}

	txn.waitMu.Lock()
	txn.waitQueue = nil
	txn.waitMu.Unlock()

	if txn.State() == common.Aborted && !r.granted {
		q.removeByTxn(txn.ID())
		if q.hasUpgrade && q.upgrading == txn.ID() {
			q.hasUpgrade = false
			q.upgrading = 0
		}
		q.tryGrant()
		q.cond.Broadcast()
		return false
	}
	return true
}

// validateAcquire implements spec.md §4.F acquire steps 2-3 (isolation and
// 2PL-state checks), aborting and returning a *LockError on violation.
func (lm *LockManager) validateAcquire(txn *Transaction, mode LockMode) error {
	if txn.IsolationLevel() == common.ReadUncommitted && (mode == S || mode == IS || mode == SIX) {
		_, err := lm.abortWith(txn, common.ErrLockSharedOnReadUncommitted)
		return err
	}
	if txn.State() == common.Shrinking {
		if txn.IsolationLevel() == common.ReadCommitted && (mode == IS || mode == S) {
			return nil
		}
		_, err := lm.abortWith(txn, common.ErrLockOnShrinking)
		return err
	}
	return nil
}

// abortWith transitions txn to ABORTED (via the bound transaction manager
// abort hook, if any — falling back to a direct state set in tests that
// construct a LockManager standalone) and returns the typed error.
func (lm *LockManager) abortWith(txn *Transaction, kind error) (bool, error) {
	if lm.abort != nil {
		_ = lm.abort(txn.ID())
	} else {
		txn.setState(common.Aborted)
	}
	return false, lockErr(txn.ID(), kind)
}

// UnlockTable releases txn's lock on oid.
func (lm *LockManager) UnlockTable(txn *Transaction, oid int64) error {
	mode, held := txn.tableLockMode(oid)
	if !held {
		_, err := lm.abortWith(txn, common.ErrAttemptedUnlockButNoLockHeld)
		return err
	}
	if txn.hasAnyRowLockUnder(oid) {
		_, err := lm.abortWith(txn, common.ErrTableUnlockedBeforeUnlockingRows)
		return err
	}

	lm.applyShrinkingTransition(txn, mode)

	q := lm.tableQueueFor(oid)
	q.mu.Lock()
	q.removeByTxn(txn.ID())
	q.tryGrant()
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.removeTableLock(oid, mode)
	return nil
}

// UnlockRow releases txn's lock on (oid, rid). force, used by rollback,
// skips the strict-2PL state transition.
func (lm *LockManager) UnlockRow(txn *Transaction, oid int64, rid common.RecordID, force bool) error {
	mode, held := txn.rowLockMode(oid, rid)
	if !held {
		_, err := lm.abortWith(txn, common.ErrAttemptedUnlockButNoLockHeld)
		return err
	}

	if !force {
		lm.applyShrinkingTransition(txn, mode)
	}

	key := rowKey{oid: oid, rid: rid}
	q := lm.rowQueueFor(key)
	q.mu.Lock()
	q.removeByTxn(txn.ID())
	q.tryGrant()
	q.cond.Broadcast()
	q.mu.Unlock()

	txn.removeRowLock(oid, rid, mode)
	return nil
}

// applyShrinkingTransition implements spec.md §4.F's release-time 2PL
// transition table.
func (lm *LockManager) applyShrinkingTransition(txn *Transaction, mode LockMode) {
	if txn.State() != common.Growing {
		return
	}
	switch txn.IsolationLevel() {
	case common.RepeatableRead:
		if mode == S || mode == X {
			txn.setState(common.Shrinking)
		}
	case common.ReadCommitted, common.ReadUncommitted:
		if mode == X {
			txn.setState(common.Shrinking)
		}
	}
}
