// Package visibility implements C5 VisibilityOracle: deciding whether a
// given transaction's writes are visible to a reader holding a particular
// Snapshot (spec.md §3, §4.5).
//
// Grounded on docdb/internal/docdb/mvcc.go's MVCC.IsVisible predicate,
// generalized from a single createdTxID/deletedTxID pair compared against
// one snapshot counter into the fuller xid-against-xmin/xmax/xip/subxip
// check, plus docdb/internal/docdb/healer.go's "recheck under the owning
// lock before trusting a cached read" idiom — IsInProgress re-derives its
// answer from the live ProcRegistry rather than caching a stale snapshot
// result, the same way Healer re-walks WAL state under db.mu rather than
// trusting an in-memory index that might have drifted.
package visibility

import (
	"github.com/kartikbazzad/txcoord/internal/collab"
	"github.com/kartikbazzad/txcoord/internal/procarray"
	"github.com/kartikbazzad/txcoord/internal/snapshot"
	"github.com/kartikbazzad/txcoord/internal/standby"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// Oracle answers visibility questions against either a live ProcRegistry
// (primary/standalone) or a standby's KnownAssignedXids array.
type Oracle struct {
	reg   *procarray.Registry // nil on a standby
	ka    *standby.KnownAssigned
	clog  collab.ClogProbe
	sub   collab.SubtransLog
	locks collab.StandbyLockReleaser // consulted only when reg is nil (standby mode); may be nil
}

// NewOracle constructs an Oracle. Exactly one of reg, ka should be
// non-nil, matching whether this node is a primary/standalone (reg) or a
// standby (ka). locks may be nil off a standby.
func NewOracle(reg *procarray.Registry, ka *standby.KnownAssigned, clog collab.ClogProbe, sub collab.SubtransLog, locks collab.StandbyLockReleaser) *Oracle {
	return &Oracle{reg: reg, ka: ka, clog: clog, sub: sub, locks: locks}
}

// IsInProgress reports whether xid's transaction (walking up to its
// topmost parent first) is still running, live-checking the current
// membership rather than trusting snap's cached lists, since the answer
// can change between when snap was built and when this is called.
//
// Invalid and frozen xids are never "in progress" (spec.md §8 boundary
// behavior: is_in_progress(InvalidXid) == false, is_in_progress(FrozenXid)
// == false).
func (o *Oracle) IsInProgress(xid types.XID) bool {
	if !xid.Valid() || !xid.Normal() {
		return false
	}
	// Recheck the commit-status log before trusting the registry scan:
	// closes the race where group-commit (§4.6) already wrote the commit
	// record and advanced LatestCompletedXid but a concurrent reader's
	// scan still observes the slot mid-clear.
	if o.committed(xid) {
		return false
	}

	top := xid
	if o.sub != nil {
		top = o.sub.SubTransGetTopmost(xid)
	}

	if o.ka != nil {
		return o.ka.Search(top, false) || o.ka.Search(xid, false)
	}

	for _, s := range o.reg.ActiveSlots() {
		if s.XID() == top {
			return true
		}
		for _, sub := range s.Subxids() {
			if sub == xid {
				return true
			}
		}
	}
	return false
}

// IsPrepared reports whether xid is currently in the PREPARED state,
// returning the exact prepare_timestamp it published if so (spec.md
// §4.5: is_prepared(xid, snapshot) -> Option<GTS>). The timestamp is read
// before the xid recheck and the pair discarded if xid changed in
// between, the same re-read-and-discard rule SnapshotBuilder applies
// (spec.md §4.4 step 5) — a backend can commit/abort between the two
// reads. On a standby, snap (if non-nil) is consulted first since there
// is no live slot to read from; StandbyLockReleaser only reports the
// boolean, not a timestamp, so snap is the sole source of prepare_ts
// there.
func (o *Oracle) IsPrepared(xid types.XID, snap *snapshot.Snapshot) (types.GTS, bool) {
	if o.reg != nil {
		for _, s := range o.reg.ActiveSlots() {
			// Read the timestamp before re-reading xid: if the slot has
			// since cleared or moved to a different transaction, this
			// match is stale and must not be reported.
			prepareTs := s.PrepareTimestamp()
			if s.XID() != xid {
				continue
			}
			if !prepareTs.Valid() {
				return types.InvalidGTS, false
			}
			return prepareTs, true
		}
		return types.InvalidGTS, false
	}
	if snap != nil {
		if ts, ok := snap.PrepareTimestamp(xid); ok {
			return ts, true
		}
	}
	if o.locks != nil && o.locks.StandbyTransactionIdIsPrepared(xid) {
		return types.InvalidGTS, true
	}
	return types.InvalidGTS, false
}

// IsActive reports whether xid is in progress (IsInProgress), prepared
// (IsPrepared), or listed as running in snap — i.e. whether it is
// "active" from a reader's point of view as opposed to cleanly committed
// or aborted. Prepared transactions count as active, and subxids are not
// excluded.
func (o *Oracle) IsActive(xid types.XID, snap *snapshot.Snapshot) bool {
	if o.IsInProgress(xid) {
		return true
	}
	if _, prepared := o.IsPrepared(xid, snap); prepared {
		return true
	}
	return snap.Contains(xid)
}

// XidVisible reports whether a row written by xid is visible to a reader
// holding snap — the core MVCC predicate (spec.md §4.5).
func (o *Oracle) XidVisible(xid types.XID, snap *snapshot.Snapshot) bool {
	if !xid.Valid() {
		return false
	}
	if xid == types.FrozenXid || xid == types.BootstrapXid {
		return true
	}

	top := xid
	if o.sub != nil {
		top = o.sub.SubTransGetTopmost(xid)
	}

	if top.Precedes(snap.Xmin) {
		return o.committed(top)
	}
	if !top.Precedes(snap.Xmax) {
		return false
	}
	if snap.Contains(top) || snap.Contains(xid) {
		return false
	}
	return o.committed(top)
}

func (o *Oracle) committed(xid types.XID) bool {
	if o.clog == nil {
		return false
	}
	return o.clog.TransactionIdDidCommit(xid)
}

// OldestXmin returns the oldest xmin across every currently relevant
// source: the live registry's active backends, or the standby's
// KnownAssignedXids array. Used to compute vacuum/replication-slot
// horizons (C9).
func (o *Oracle) OldestXmin() types.XID {
	if o.ka != nil {
		return o.ka.GetOldestXmin()
	}

	oldest := types.InvalidXid
	for _, s := range o.reg.ActiveSlots() {
		xmin := s.Xmin()
		if !xmin.Valid() {
			continue
		}
		oldest = types.XIDMin(oldest, xmin)
	}
	return oldest
}
