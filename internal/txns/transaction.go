package txns

import (
	"sync"
	"sync/atomic"

	"coredb/internal/common"
)

// Transaction is the external-interface Transaction from spec.md §3/§6:
// an id, isolation level, mutable state, and seven bookkeeping sets (five
// per-mode table lock sets, and shared/exclusive row lock sets keyed by
// table oid). State is read from the lock manager's wait loops without
// holding any other lock, so it lives in an atomic rather than behind
// setsMu, to keep the map-mutex -> queue-mutex locking order in
// spec.md §5 free of a third lock class.
type Transaction struct {
	id        common.TxnID
	isolation common.IsolationLevel
	state     atomic.Int32

	setsMu       sync.Mutex
	tableLocks   [5]map[int64]struct{}          // indexed by LockMode
	sharedRows   map[int64]map[common.RecordID]struct{} // oid -> rids held S
	exclRows     map[int64]map[common.RecordID]struct{} // oid -> rids held X

	waitMu    sync.Mutex
	waitQueue *queue // resource queue this txn is currently blocked on, if any
}

func newTransaction(id common.TxnID, isolation common.IsolationLevel) *Transaction {
	t := &Transaction{id: id, isolation: isolation}
	for i := range t.tableLocks {
		t.tableLocks[i] = make(map[int64]struct{})
	}
	t.sharedRows = make(map[int64]map[common.RecordID]struct{})
	t.exclRows = make(map[int64]map[common.RecordID]struct{})
	t.state.Store(int32(common.Growing))
	return t
}

// ID returns the transaction's id.
func (t *Transaction) ID() common.TxnID { return t.id }

// IsolationLevel returns the transaction's isolation level.
func (t *Transaction) IsolationLevel() common.IsolationLevel { return t.isolation }

// State returns the transaction's current state.
func (t *Transaction) State() common.TxnState { return common.TxnState(t.state.Load()) }

func (t *Transaction) setState(s common.TxnState) { t.state.Store(int32(s)) }

func (t *Transaction) tableLockMode(oid int64) (LockMode, bool) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	for m := IS; m <= X; m++ {
		if _, ok := t.tableLocks[m][oid]; ok {
			return m, true
		}
	}
	return 0, false
}

func (t *Transaction) addTableLock(oid int64, mode LockMode) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	t.tableLocks[mode][oid] = struct{}{}
}

func (t *Transaction) removeTableLock(oid int64, mode LockMode) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	delete(t.tableLocks[mode], oid)
}

// hasAnyTableLockIn reports whether the txn holds a table lock on oid in
// any of the given modes.
func (t *Transaction) hasAnyTableLockIn(oid int64, modes ...LockMode) bool {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	for _, m := range modes {
		if _, ok := t.tableLocks[m][oid]; ok {
			return true
		}
	}
	return false
}

func (t *Transaction) hasAnyRowLockUnder(oid int64) bool {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	if rows, ok := t.sharedRows[oid]; ok && len(rows) > 0 {
		return true
	}
	if rows, ok := t.exclRows[oid]; ok && len(rows) > 0 {
		return true
	}
	return false
}

func (t *Transaction) rowLockMode(oid int64, rid common.RecordID) (LockMode, bool) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	if rows, ok := t.sharedRows[oid]; ok {
		if _, ok := rows[rid]; ok {
			return S, true
		}
	}
	if rows, ok := t.exclRows[oid]; ok {
		if _, ok := rows[rid]; ok {
			return X, true
		}
	}
	return 0, false
}

func (t *Transaction) addRowLock(oid int64, rid common.RecordID, mode LockMode) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	set := t.sharedRows
	if mode == X {
		set = t.exclRows
	}
	if set[oid] == nil {
		set[oid] = make(map[common.RecordID]struct{})
	}
	set[oid][rid] = struct{}{}
}

func (t *Transaction) removeRowLock(oid int64, rid common.RecordID, mode LockMode) {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	set := t.sharedRows
	if mode == X {
		set = t.exclRows
	}
	if rows, ok := set[oid]; ok {
		delete(rows, rid)
	}
}

// allRowLocks returns every (oid, rid, mode) row lock currently held, used
// by abort rollback to force-unlock everything.
func (t *Transaction) allRowLocks() []struct {
	oid  int64
	rid  common.RecordID
	mode LockMode
} {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	var out []struct {
		oid  int64
		rid  common.RecordID
		mode LockMode
	}
	for oid, rows := range t.sharedRows {
		for rid := range rows {
			out = append(out, struct {
				oid  int64
				rid  common.RecordID
				mode LockMode
			}{oid, rid, S})
		}
	}
	for oid, rows := range t.exclRows {
		for rid := range rows {
			out = append(out, struct {
				oid  int64
				rid  common.RecordID
				mode LockMode
			}{oid, rid, X})
		}
	}
	return out
}

// allTableLocks returns every (oid, mode) table lock currently held.
func (t *Transaction) allTableLocks() []struct {
	oid  int64
	mode LockMode
} {
	t.setsMu.Lock()
	defer t.setsMu.Unlock()
	var out []struct {
		oid  int64
		mode LockMode
	}
	for m := IS; m <= X; m++ {
		for oid := range t.tableLocks[m] {
			out = append(out, struct {
				oid  int64
				mode LockMode
			}{oid, m})
		}
	}
	return out
}

var _ common.TxnHandle = (*Transaction)(nil)
