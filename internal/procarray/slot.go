package procarray

import (
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// VacuumFlag is a bitmask describing why a backend is exempt from normal
// visibility contribution (spec.md §3 ProcSlot.vacuum_flags).
type VacuumFlag uint32

const (
	VacuumFlagInVacuum VacuumFlag = 1 << iota
	VacuumFlagInLogicalDecoding
	VacuumFlagIsAutovacuum
)

// ProcSlot is one backend's entry in the shared registry (spec.md §3).
// The owning backend holds a *ProcSlot and writes most fields directly;
// cross-slot writes only happen from the group-commit leader (§4.6) and
// only while it holds the registry's exclusive lock.
type ProcSlot struct {
	slotIdx int // fixed index into Registry.slots, stable for the slot's lifetime

	// xid transitions Invalid -> xid -> Invalid monotonically within one
	// transaction (invariant 1); only the owning backend writes it, except
	// the group-commit leader clearing it under the exclusive lock.
	xid atomic.Uint32

	xmin atomic.Uint32 // this backend's oldest still-visible XID
	tmin atomic.Uint64 // oldest GTS still referenced by this backend's snapshot

	prepareTimestamp atomic.Uint64 // GTS at which xid entered PREPARED; 0 = invalid
	commitTs         atomic.Uint64

	// Subtransaction cache: bounded, with an overflow flag once exceeded.
	// Mutated only by the owning backend; read by scanners under the
	// registry's shared lock, so it is not additionally synchronized here
	// (the shared lock already serializes against the group-commit leader,
	// the only writer other than the owner).
	nxids      int
	subxids    []types.XID
	overflowed bool

	vacuumFlags     atomic.Uint32
	delayCheckpoint atomic.Bool

	databaseID        uint64
	roleID            uint64
	pid               int
	backendID         int64
	isBackgroundWorker bool
	isPooler           bool

	// globalXid names the distributed transaction this backend is part
	// of, if any. Guarded by its own lock distinct from the registry lock
	// (spec.md §3, §5: "per-slot lock: guards only global_xid").
	globalXidMu sync.Mutex
	globalXid   string

	coordID  uint64
	coordPID int

	// Group-commit linkage (C6, spec.md §4.6).
	groupNext      atomic.Int32 // index of next slot in the wait chain, or invalidSlot
	groupMember    atomic.Bool
	groupMemberXid atomic.Uint32
	groupSem       chan struct{} // capacity-1 park/wake channel for this slot
}

const invalidSlot int32 = -1

func newProcSlot(idx int, maxCachedSubxids int) *ProcSlot {
	s := &ProcSlot{
		slotIdx: idx,
		subxids: make([]types.XID, maxCachedSubxids),
		groupSem: make(chan struct{}, 1),
	}
	s.groupNext.Store(invalidSlot)
	return s
}

// reset clears every field back to the "unoccupied" state. Called by
// Registry.Remove while holding the exclusive lock.
func (s *ProcSlot) reset() {
	s.xid.Store(uint32(types.InvalidXid))
	s.xmin.Store(uint32(types.InvalidXid))
	s.tmin.Store(0)
	s.prepareTimestamp.Store(0)
	s.commitTs.Store(0)
	s.nxids = 0
	s.overflowed = false
	s.vacuumFlags.Store(0)
	s.delayCheckpoint.Store(false)
	s.globalXidMu.Lock()
	s.globalXid = ""
	s.globalXidMu.Unlock()
	s.coordID = 0
	s.coordPID = 0
	s.groupNext.Store(invalidSlot)
	s.groupMember.Store(false)
	s.groupMemberXid.Store(uint32(types.InvalidXid))
}

// XID returns the slot's current top-level transaction id.
func (s *ProcSlot) XID() types.XID { return types.XID(s.xid.Load()) }

// SetXID sets the slot's top-level transaction id. Only the owning
// backend may call this (invariant 1).
func (s *ProcSlot) SetXID(xid types.XID) { s.xid.Store(uint32(xid)) }

// Xmin returns the backend's advertised snapshot horizon.
func (s *ProcSlot) Xmin() types.XID { return types.XID(s.xmin.Load()) }

func (s *ProcSlot) SetXmin(xmin types.XID) { s.xmin.Store(uint32(xmin)) }

// Tmin returns the oldest GTS still referenced by this backend's snapshot.
func (s *ProcSlot) Tmin() types.GTS {
	v := s.tmin.Load()
	return types.GTS{Value: v}
}

func (s *ProcSlot) SetTmin(t types.GTS) { s.tmin.Store(t.Value) }

// ClearForCommit resets every field the clearing protocols (the inline
// EndTransaction fast path and group-commit draining, spec.md §4.6 step
// 4) must reset once a transaction finishes: xid, xmin, tmin, vacuum
// flags, delay-checkpoint, the subxid cache, the prepare timestamp, and
// global_xid ownership. Returns the commit timestamp that was in effect
// immediately before clearing, so the caller can fold it into
// ShmemVariables' latestCommitTs/latestGTS (spec.md invariant 4). Callers
// must hold the registry's exclusive lock.
func (s *ProcSlot) ClearForCommit() types.GTS {
	commitTs := s.CommitTs()
	s.xid.Store(uint32(types.InvalidXid))
	s.xmin.Store(uint32(types.InvalidXid))
	s.tmin.Store(0)
	s.prepareTimestamp.Store(0)
	s.vacuumFlags.Store(0)
	s.delayCheckpoint.Store(false)
	s.nxids = 0
	s.overflowed = false
	s.globalXidMu.Lock()
	s.globalXid = ""
	s.globalXidMu.Unlock()
	return commitTs
}

// ClearWeakFields clears only the fields spec.md §4.3 end_transaction
// permits clearing without the registry lock, when latestXid was never
// assigned (a read-only transaction with nothing to merge into
// LatestCompletedXid): xmin, vacuum flags, delay-checkpoint, tmin, and
// prepare_timestamp. xid is left untouched — a read-only transaction
// never had one to clear.
func (s *ProcSlot) ClearWeakFields() {
	s.xmin.Store(uint32(types.InvalidXid))
	s.tmin.Store(0)
	s.prepareTimestamp.Store(0)
	s.vacuumFlags.Store(0)
	s.delayCheckpoint.Store(false)
}

// PrepareTimestamp returns the GTS at which this slot's xid entered
// PREPARED, or an invalid GTS if it never did (or has since cleared).
func (s *ProcSlot) PrepareTimestamp() types.GTS {
	return types.GTS{Value: s.prepareTimestamp.Load()}
}

func (s *ProcSlot) SetPrepareTimestamp(t types.GTS) { s.prepareTimestamp.Store(t.Value) }

func (s *ProcSlot) CommitTs() types.GTS { return types.GTS{Value: s.commitTs.Load()} }

func (s *ProcSlot) SetCommitTs(t types.GTS) { s.commitTs.Store(t.Value) }

// VacuumFlags returns the slot's current vacuum/decoding/autovacuum bits.
func (s *ProcSlot) VacuumFlags() VacuumFlag { return VacuumFlag(s.vacuumFlags.Load()) }

func (s *ProcSlot) SetVacuumFlags(f VacuumFlag) { s.vacuumFlags.Store(uint32(f)) }

func (s *ProcSlot) HasVacuumFlag(f VacuumFlag) bool { return s.VacuumFlags()&f != 0 }

func (s *ProcSlot) DelayCheckpoint() bool { return s.delayCheckpoint.Load() }

func (s *ProcSlot) SetDelayCheckpoint(v bool) { s.delayCheckpoint.Store(v) }

// SlotIndex returns this slot's stable index into the registry array.
func (s *ProcSlot) SlotIndex() int { return s.slotIdx }

// SetSubxids replaces the cached subtransaction list (truncated to the
// cache capacity; overflowed is set if xids did not fit).
func (s *ProcSlot) SetSubxids(xids []types.XID) {
	cap := len(s.subxids)
	if len(xids) > cap {
		copy(s.subxids, xids[:cap])
		s.nxids = cap
		s.overflowed = true
		return
	}
	copy(s.subxids, xids)
	s.nxids = len(xids)
	s.overflowed = false
}

// Subxids returns the currently cached subxids (read-only view).
func (s *ProcSlot) Subxids() []types.XID { return s.subxids[:s.nxids] }

func (s *ProcSlot) Overflowed() bool { return s.overflowed }

// GlobalXid returns the distributed transaction name, if any.
func (s *ProcSlot) GlobalXid() string {
	s.globalXidMu.Lock()
	defer s.globalXidMu.Unlock()
	return s.globalXid
}

// SetGlobalXid installs a global transaction name under the per-slot lock.
func (s *ProcSlot) SetGlobalXid(name string) {
	s.globalXidMu.Lock()
	s.globalXid = name
	s.globalXidMu.Unlock()
}

// Identity setters, written once at Add time by the owning backend.
func (s *ProcSlot) SetIdentity(databaseID, roleID uint64, pid int, backendID int64, isBGWorker, isPooler bool) {
	s.databaseID = databaseID
	s.roleID = roleID
	s.pid = pid
	s.backendID = backendID
	s.isBackgroundWorker = isBGWorker
	s.isPooler = isPooler
}

func (s *ProcSlot) DatabaseID() uint64 { return s.databaseID }
func (s *ProcSlot) PID() int           { return s.pid }

func (s *ProcSlot) SetCoordinator(coordID uint64, coordPID int) {
	s.coordID = coordID
	s.coordPID = coordPID
}
