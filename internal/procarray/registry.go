package procarray

import (
	"sync"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/errs"
	"github.com/kartikbazzad/txcoord/internal/logger"
	"github.com/kartikbazzad/txcoord/internal/metrics"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// Registry is C3 ProcRegistry: the fixed-size array of ProcSlots plus the
// global-state cursors (C2) and the group-commit clearing machinery (C6).
// One Registry is created per running coordinator node; there is no
// package-level singleton (spec.md §9).
//
// Grounded on docdb/internal/docdb/transaction.go's TransactionManager
// (mutex-guarded registry with a lock-free fast-read path for the common
// case) generalized from a map to a fixed-capacity slice, matching the
// "preallocated shared-memory array" shape in spec.md §3.
type Registry struct {
	mu sync.RWMutex // the registry lock: exclusive for topology changes, shared for scans

	slots  []*ProcSlot // fixed capacity, index-stable
	active []int32     // sorted slot indices currently occupied, maintained under mu

	globals *Globals
	group   *groupCommit

	// Replication-slot horizon (C9, spec.md §4.9). Guarded by mu, same as
	// the rest of the registry's exclusive-lock-protected state.
	replicationSlotXmin        types.XID
	replicationSlotCatalogXmin types.XID

	cfg      config.ProcArrayConfig
	groupCfg config.GroupCommitConfig
	met      *metrics.Registry
	log      *logger.Logger
}

// NewRegistry allocates a Registry with cfg.MaxProcs slots, all initially
// unoccupied.
func NewRegistry(cfg config.ProcArrayConfig, groupCfg config.GroupCommitConfig, met *metrics.Registry, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	r := &Registry{
		slots:    make([]*ProcSlot, cfg.MaxProcs),
		globals:  NewGlobals(),
		cfg:      cfg,
		groupCfg: groupCfg,
		met:      met,
		log:      log,
	}
	for i := range r.slots {
		r.slots[i] = newProcSlot(i, cfg.MaxCachedSubxids)
	}
	r.group = newGroupCommit(r)
	return r
}

// Globals returns the registry's C2 ShmemVariables.
func (r *Registry) Globals() *Globals { return r.globals }

// PublishXmin installs xmin as proc's newly advertised snapshot horizon,
// checking it against the current LatestCompletedXid watermark first
// (spec.md §3 invariant 2: a slot's xmin must never precede
// LatestCompletedXid's successor at the moment it is set).
func (r *Registry) PublishXmin(proc *ProcSlot, xmin types.XID) {
	checkXminConsistency(r.globals.LatestCompletedXid().Next(), xmin)
	proc.SetXmin(xmin)
}

// insertSorted inserts idx into the sorted active list, keeping it ordered.
func insertSorted(active []int32, idx int32) []int32 {
	pos := len(active)
	for i, v := range active {
		if v > idx {
			pos = i
			break
		}
	}
	active = append(active, 0)
	copy(active[pos+1:], active[pos:])
	active[pos] = idx
	return active
}

func removeSorted(active []int32, idx int32) []int32 {
	for i, v := range active {
		if v == idx {
			return append(active[:i], active[i+1:]...)
		}
	}
	return active
}

// Add claims a free slot for a new backend and returns it. Returns
// errs.ErrTooManyClients (Fatal, spec.md §7) if the registry is full.
func (r *Registry) Add(databaseID, roleID uint64, pid int, backendID int64, isBGWorker, isPooler bool) (*ProcSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= len(r.slots) {
		if r.met != nil {
			r.met.RegistryFullTotal.Inc()
		}
		return nil, errs.Fatal(errs.ErrTooManyClients)
	}
	for _, s := range r.slots {
		if s.XID() == types.InvalidXid && !inActive(r.active, int32(s.SlotIndex())) {
			s.SetIdentity(databaseID, roleID, pid, backendID, isBGWorker, isPooler)
			r.active = insertSorted(r.active, int32(s.SlotIndex()))
			if r.met != nil {
				r.met.RegistrySize.Set(float64(len(r.active)))
			}
			return s, nil
		}
	}
	if r.met != nil {
		r.met.RegistryFullTotal.Inc()
	}
	return nil, errs.Fatal(errs.ErrTooManyClients)
}

func inActive(active []int32, idx int32) bool {
	for _, v := range active {
		if v == idx {
			return true
		}
	}
	return false
}

// Remove releases proc's slot back to the free pool. latestXid, if valid,
// advances LatestCompletedXid first (the backend is disconnecting with an
// outstanding transaction, e.g. on error).
func (r *Registry) Remove(proc *ProcSlot, latestXid types.XID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if latestXid.Valid() {
		r.globals.AdvanceLatestCompletedXid(latestXid)
	}
	proc.reset()
	r.active = removeSorted(r.active, int32(proc.SlotIndex()))
	if r.met != nil {
		r.met.RegistrySize.Set(float64(len(r.active)))
	}
}

// EndTransaction clears proc's XID at commit/abort. It first tries a
// non-blocking acquisition of the exclusive lock (the cheap path); if that
// fails because another backend holds the lock, proc is enqueued into the
// group-commit wait chain instead (C6, spec.md §4.6) rather than blocking.
//
// An invalid latestXid (the transaction never had one assigned, e.g. a
// read-only transaction) only clears proc's own weak fields and never
// touches the registry lock or LatestCompletedXid.
func (r *Registry) EndTransaction(proc *ProcSlot, latestXid types.XID) {
	if !latestXid.Valid() {
		proc.ClearWeakFields()
		return
	}

	if r.mu.TryLock() {
		r.globals.AdvanceLatestCompletedXid(latestXid)
		commitTs := proc.ClearForCommit()
		if commitTs.Valid() {
			r.globals.AdvanceLatestCommitTs(commitTs.Value)
			r.globals.AdvanceLatestGTS(commitTs)
		}
		r.mu.Unlock()
		return
	}

	r.group.enqueue(proc, latestXid)
}

// ClearTransaction clears proc's transient fields (xmin and tmin) after it
// has entered PREPARED. The XID itself is left in place, so the 2PC
// placeholder stays visible to other backends' snapshots (spec.md §4.6
// "post-prepare clear" case); nothing goes through group commit.
func (r *Registry) ClearTransaction(proc *ProcSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc.SetXmin(types.InvalidXid)
	proc.SetTmin(types.InvalidGTS)
}

// SetReplicationSlotXmin installs new replication-slot horizon values
// (C9). alreadyLocked lets a caller that already holds the exclusive lock
// (e.g. mid group-commit) skip re-acquiring it.
func (r *Registry) SetReplicationSlotXmin(xmin, catalogXmin types.XID, alreadyLocked bool) {
	if !alreadyLocked {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	r.replicationSlotXmin = xmin
	r.replicationSlotCatalogXmin = catalogXmin
}

// GetReplicationSlotXmin returns the current replication-slot horizon.
func (r *Registry) GetReplicationSlotXmin() (xmin, catalogXmin types.XID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replicationSlotXmin, r.replicationSlotCatalogXmin
}

// ActiveSlots returns the ProcSlots currently in use, snapshotted under
// the shared lock. Used by SnapshotBuilder (C4) to scan the registry.
func (r *Registry) ActiveSlots() []*ProcSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ProcSlot, 0, len(r.active))
	for _, idx := range r.active {
		out = append(out, r.slots[idx])
	}
	return out
}

// WithSharedLock runs fn while holding the registry's shared lock, for
// callers (SnapshotBuilder) that need a consistent read across several
// registry accessors in one critical section (spec.md §4.4 step 1-2).
func (r *Registry) WithSharedLock(fn func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}
