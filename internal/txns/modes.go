// Package txns implements the hierarchical, strict-two-phase lock manager
// and transaction bookkeeping from spec.md §4.F: table/row lock
// acquisition and release, per-resource FIFO-with-batching grant queues,
// and background deadlock detection over the resulting waits-for graph.
//
// Grounded on the teacher's generic lockManager[LockModeType, ID] design
// in _teacher_ref/src/txns/manager.go — one mutex per top-level map plus a
// mutex+condition-variable per resource queue, map-mutex-then-queue-mutex
// ordering throughout — adapted from the teacher's catalog/file/page
// object hierarchy onto spec.md's flat table-oid/row-rid resource space.
package txns

import "fmt"

// LockMode is one of the five lock modes from spec.md §4.F.
type LockMode int

const (
	IS LockMode = iota
	IX
	S
	SIX
	X
)

func (m LockMode) String() string {
	switch m {
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// compatibility[held][requested] reports whether a lock in mode requested
// may be granted while a lock in mode held is already granted on the same
// resource. The matrix is symmetric, matching spec.md §4.F.
var compatibility = [5][5]bool{
	IS:  {IS: true, IX: true, S: true, SIX: true, X: false},
	IX:  {IS: true, IX: true, S: false, SIX: false, X: false},
	S:   {IS: true, IX: false, S: true, SIX: false, X: false},
	SIX: {IS: true, IX: false, S: false, SIX: false, X: false},
	X:   {IS: false, IX: false, S: false, SIX: false, X: false},
}

// Compatible reports whether requested may be granted alongside held.
func Compatible(held, requested LockMode) bool {
	return compatibility[held][requested]
}

// upgradeLattice[held] is the set of modes held may be upgraded to, per
// spec.md §4.F's upgrade lattice.
var upgradeLattice = map[LockMode]map[LockMode]bool{
	IS:  {S: true, IX: true, SIX: true, X: true},
	S:   {X: true, SIX: true},
	IX:  {X: true, SIX: true},
	SIX: {X: true},
	X:   {},
}

// CanUpgrade reports whether a lock held in mode from may be upgraded to
// mode to.
func CanUpgrade(from, to LockMode) bool {
	return upgradeLattice[from][to]
}

// IsIntentionMode reports whether m is one of the intention modes
// (IS, IX, SIX), which are never valid on individual rows.
func IsIntentionMode(m LockMode) bool {
	return m == IS || m == IX || m == SIX
}
