// Package procarray implements the shared process registry: C2
// ShmemVariables, C3 ProcRegistry, C6 GroupCommitClearing, and C9
// ReplicationSlotHorizon from spec.md §4.2-§4.3, §4.6, §4.9.
//
// Grounded on docdb/internal/docdb/transaction.go's TransactionManager
// (a mutex-guarded map plus a monotonic id source off a small MVCC
// cursor struct) and docdb/internal/docdb/partition.go's split between
// an exclusively-locked write path and a lock-free read path. The
// original's raw shared-memory array becomes a fixed-size Go slice of
// *ProcSlot owned by one Registry value, matching the "explicit shared
// context value" design note in spec.md §9 rather than a package-level
// global.
package procarray

import (
	"sync/atomic"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// Globals is C2 ShmemVariables: the process-wide atomically-updated
// cursors every backend reads. One Globals is owned by the Registry that
// was constructed alongside it; there is no package-level singleton.
type Globals struct {
	// nextXid is advanced by an atomic add in AllocateXid; there is no
	// separate "XidGen" lock in this port.
	nextXid atomic.Uint32

	// latestCompletedXid is guarded by the registry's exclusive lock.
	latestCompletedXid atomic.Uint32

	// latestCommitTs and latestGTS are guarded by the "CommitTs" lock
	// conceptually, but since both are single 64-bit words they are safe
	// to read unlocked (spec.md §4.2) — atomics suffice.
	latestCommitTs atomic.Uint64
	latestGTS      atomic.Uint64
}

// NewGlobals returns a fresh Globals with nextXid seeded at
// types.FirstNormalXid, as a freshly bootstrapped process would have.
func NewGlobals() *Globals {
	g := &Globals{}
	g.nextXid.Store(uint32(types.FirstNormalXid))
	return g
}

// AllocateXid assigns and returns the next XID, advancing the generator.
// It takes no lock: the atomic add alone guarantees that concurrent
// callers each get a number nobody else got.
func (g *Globals) AllocateXid() types.XID {
	return types.XID(g.nextXid.Add(1) - 1)
}

// LatestCompletedXid returns the current value (spec.md §3 invariant 3:
// non-decreasing in modular order).
func (g *Globals) LatestCompletedXid() types.XID {
	return types.XID(g.latestCompletedXid.Load())
}

// AdvanceLatestCompletedXid bumps latestCompletedXid to xid if xid does
// not precede the current value (enforces invariant 3). Callers must hold
// the registry's exclusive lock.
func (g *Globals) AdvanceLatestCompletedXid(xid types.XID) {
	for {
		cur := types.XID(g.latestCompletedXid.Load())
		if !cur.Precedes(xid) {
			return
		}
		if g.latestCompletedXid.CompareAndSwap(uint32(cur), uint32(xid)) {
			checkLatestCompletedMonotonic(cur, xid)
			return
		}
	}
}

// LatestCommitTs / AdvanceLatestCommitTs: invariant 4, non-decreasing.
func (g *Globals) LatestCommitTs() uint64 { return g.latestCommitTs.Load() }

func (g *Globals) AdvanceLatestCommitTs(ts uint64) {
	for {
		cur := g.latestCommitTs.Load()
		if ts <= cur {
			return
		}
		if g.latestCommitTs.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// LatestGTS / AdvanceLatestGTS: invariant 4, non-decreasing, readable
// unlocked per spec.md §4.2.
func (g *Globals) LatestGTS() types.GTS {
	return types.GTS{Value: g.latestGTS.Load()}
}

func (g *Globals) AdvanceLatestGTS(ts types.GTS) {
	if !ts.Valid() {
		return
	}
	for {
		cur := g.latestGTS.Load()
		if ts.Value <= cur {
			return
		}
		if g.latestGTS.CompareAndSwap(cur, ts.Value) {
			return
		}
	}
}
