package txns

import (
	"fmt"

	"coredb/internal/common"
)

// LockError is the tier-2 transactional-abort error from spec.md §7: every
// lock-manager precondition violation is surfaced as one of these, and the
// triggering transaction has already been moved to ABORTED by the time the
// caller sees it.
type LockError struct {
	TxnID common.TxnID
	Kind  error // one of the common.Err* sentinels
}

func (e *LockError) Error() string {
	return fmt.Sprintf("txn %d: %v", e.TxnID, e.Kind)
}

func (e *LockError) Unwrap() error { return e.Kind }

func lockErr(txnID common.TxnID, kind error) *LockError {
	return &LockError{TxnID: txnID, Kind: kind}
}
