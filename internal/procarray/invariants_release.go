//go:build !debug

package procarray

import (
	"github.com/kartikbazzad/txcoord/internal/types"
)

func checkXminConsistency(globalXmin, slotXmin types.XID) {
	_ = globalXmin
	_ = slotXmin
}

func checkLatestCompletedMonotonic(prev, next types.XID) {
	_ = prev
	_ = next
}

func checkSlotOwnedForClear(s *ProcSlot) {
	_ = s
}
