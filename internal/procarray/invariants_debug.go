//go:build debug

package procarray

import (
	"fmt"

	"github.com/kartikbazzad/txcoord/internal/errs"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// checkXminConsistency verifies that no active slot's xmin precedes the
// registry's own LatestCompletedXid watermark minus anything still legally
// held open (invariant: a live backend's xmin can never point behind the
// globally agreed "nothing older than this is running" line once that
// line has been advanced past it). Panics (errs.ErrXminConsistency,
// spec.md §7 Panic severity) rather than logging, since the only way this
// fires is a bug in the clearing or advance path, not bad input.
func checkXminConsistency(globalXmin, slotXmin types.XID) {
	if !slotXmin.Valid() {
		return
	}
	if slotXmin.Precedes(globalXmin) {
		panic(fmt.Errorf("%w: slot xmin %d precedes computed global xmin %d", errs.Panic(errs.ErrXminConsistency), slotXmin, globalXmin))
	}
}

// checkLatestCompletedMonotonic verifies invariant 3: LatestCompletedXid
// never moves backward.
func checkLatestCompletedMonotonic(prev, next types.XID) {
	if prev.Valid() && next.Precedes(prev) {
		panic(fmt.Errorf("%w: latestCompletedXid regressed from %d to %d", errs.Panic(errs.ErrLatestCompletedRegression), prev, next))
	}
}

// checkSlotOwnedForClear verifies a slot being cleared by the group-commit
// leader is actually marked as a chain member, catching a leader that
// walked off the end of the chain into an unrelated slot.
func checkSlotOwnedForClear(s *ProcSlot) {
	if !s.groupMember.Load() {
		panic(fmt.Errorf("%w: group-commit leader cleared slot %d that was never enqueued", errs.Panic(errs.ErrSlotNotOwned), s.SlotIndex()))
	}
}
