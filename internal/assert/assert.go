// Package assert implements the tier-3 fatal-assertion failures spec.md §7
// calls for: violated data-structure invariants must panic the process
// rather than return an error, because they indicate a bug in the core, not
// a workload outcome a caller can react to.
package assert

import "fmt"

// Assert panics with a formatted message when cond is false. Used
// throughout bufferpool, btree and txns to guard invariants such as
// "free list XOR page table", "leaf stays sorted", or "only one txn may be
// mid-upgrade on a queue".
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// Never panics unconditionally, documenting an unreachable branch.
func Never(format string, args ...any) {
	panic(fmt.Sprintf("unreachable: "+format, args...))
}
