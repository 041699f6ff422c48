// Package standby implements C7 KnownAssignedXids: a hot-standby's
// reconstruction of "which XIDs are currently in progress" purely from
// WAL-carried running-xacts records, since a standby has no live backends
// of its own to ask.
//
// Grounded on docdb/internal/wal/recovery.go's segment-replay loop
// (sequential records fed through a handler, torn/erroring records logged
// and skipped rather than aborting the whole replay) and
// docdb/internal/docdb/coordinator_log.go's append-then-compact shape,
// reinterpreted here as an in-memory sorted array rather than a file: the
// original KnownAssignedXids array lives in shared memory and is rebuilt
// from scratch on every restart, so there is nothing to persist — only
// the "append in order, periodically compact" idiom carries over.
package standby

import (
	"context"
	"sort"
	"sync"

	"github.com/kartikbazzad/txcoord/internal/collab"
	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/errs"
	"github.com/kartikbazzad/txcoord/internal/logger"
	"github.com/kartikbazzad/txcoord/internal/metrics"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// KnownAssigned holds every XID currently believed to be in progress on
// the primary, as observed via WAL replay on a standby.
type KnownAssigned struct {
	mu sync.Mutex

	// xids is kept sorted ascending in modular order (true ascending,
	// since a standby only ever sees a bounded window of XID space at
	// once; this port does not special-case a wraparound crossing within
	// a single array the way the 32-bit-space-wide original must).
	xids []types.XID

	tombstones int // entries marked removed but not yet compacted out

	cfg   config.StandbyConfig
	sub   collab.SubtransLog       // optional; extends the subtrans log for synthesized gap entries
	locks collab.StandbyLockReleaser // optional; released for xids pruned by ApplyRecoveryInfo
	met   *metrics.Registry
	log   *logger.Logger
}

// NewKnownAssigned returns an empty array, as a fresh standby has at
// startup before any running-xacts record has been replayed. sub and
// locks may both be nil; Record then skips ExtendSubtrans for synthesized
// gap entries and ApplyRecoveryInfo skips releasing standby locks.
func NewKnownAssigned(cfg config.StandbyConfig, sub collab.SubtransLog, locks collab.StandbyLockReleaser, met *metrics.Registry, log *logger.Logger) *KnownAssigned {
	if log == nil {
		log = logger.Default()
	}
	return &KnownAssigned{cfg: cfg, sub: sub, locks: locks, met: met, log: log}
}

// Record appends xid to the array. xid must not precede the current
// maximum recorded xid — WAL records are replayed in the order they were
// written, so an out-of-order insertion means either replay fed records
// out of sequence or the array was corrupted; either is a Panic-severity
// invariant violation (errs.ErrKnownAssignedCorruption, spec.md §7).
//
// If xid leaves a gap after the latest recorded xid, every intermediate
// xid in the gap is synthesized as running too (spec.md §4.7: a standby
// cannot have observed them individually, but WAL ordering guarantees
// they were assigned and not yet completed, so they must be treated as
// in-progress until proven otherwise). The subtrans log is extended for
// each synthesized entry so a later SubTransGetTopmost walk resolves it.
func (k *KnownAssigned) Record(xid types.XID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if n := len(k.xids); n > 0 && xid.PrecedesOrEquals(k.xids[n-1]) && xid != k.xids[n-1] {
		panic(errs.Panic(errs.ErrKnownAssignedCorruption))
	}
	if n := len(k.xids); n > 0 && xid == k.xids[n-1] {
		// Duplicate of the most recently recorded xid: can legitimately
		// happen for a prepared transaction re-listed across overlapping
		// running-xacts records (DESIGN.md Open Question 3). Warning,
		// not corruption.
		if k.met != nil {
			k.met.KnownAssignedDuplicate.Inc()
		}
		k.log.Warn("known-assigned: duplicate record for xid %d", xid)
		return
	}

	if n := len(k.xids); n > 0 {
		latest := k.xids[n-1]
		for gap := latest.Next(); gap != xid; gap = gap.Next() {
			k.xids = append(k.xids, gap)
			if k.sub != nil {
				k.sub.ExtendSubtrans(gap, types.InvalidXid)
			}
			if k.met != nil {
				k.met.KnownAssignedGapFilled.Inc()
			}
		}
	}
	k.xids = append(k.xids, xid)
	k.touchSize()
}

// ExpireTree removes xid and every subxid in subxids from the array,
// as the PREPARE/COMMIT/ABORT WAL record for a transaction tree is
// replayed and the whole tree leaves "in progress".
func (k *KnownAssigned) ExpireTree(xid types.XID, subxids []types.XID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(xid)
	for _, sub := range subxids {
		k.removeLocked(sub)
	}
	k.maybeCompactLocked(false)
}

// ExpirePreceding drops every entry strictly preceding limit — used when a
// later running-xacts record's oldest-xmin proves those entries can never
// be referenced again.
func (k *KnownAssigned) ExpirePreceding(limit types.XID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kept := k.xids[:0]
	for _, x := range k.xids {
		if x.Precedes(limit) {
			k.tombstones++
			continue
		}
		kept = append(kept, x)
	}
	k.xids = kept
	k.touchSize()
}

// Reset clears the array entirely, as happens when recovery encounters a
// fresh running-xacts snapshot record (a clean restart point rather than
// an incremental one).
func (k *KnownAssigned) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.xids = nil
	k.tombstones = 0
	k.touchSize()
}

// Search reports whether xid is present; if remove is true and it is
// found, it is also removed.
func (k *KnownAssigned) Search(xid types.XID, remove bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	idx, found := k.findLocked(xid)
	if !found {
		return false
	}
	if remove {
		k.xids = append(k.xids[:idx], k.xids[idx+1:]...)
		k.touchSize()
	}
	return true
}

// GetOldestXmin returns the smallest XID currently recorded, or
// types.InvalidXid if the array is empty.
func (k *KnownAssigned) GetOldestXmin() types.XID {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.xids) == 0 {
		return types.InvalidXid
	}
	return k.xids[0]
}

// GetAndSetXmin folds the known-assigned horizon into a snapshot under
// construction: it stores the oldest in-progress xid into *out (clamped
// so it never exceeds xmax, matching the primary-side snapshot rule that
// xmin never exceeds xmax), or xmax itself if the array is empty. Grounded on spec.md
// §4.4 step 8 (standby path consults KnownAssignedXids instead of the
// live ProcRegistry).
func (k *KnownAssigned) GetAndSetXmin(out *types.XID, xmax types.XID) {
	oldest := k.GetOldestXmin()
	if !oldest.Valid() || xmax.Precedes(oldest) {
		*out = xmax
		return
	}
	*out = oldest
}

// Compress removes tombstoned slack from the backing slice. force skips
// the load-factor check and always reallocates down to exactly the live
// set — used at shutdown/test boundaries; the background trigger always
// passes force=false.
func (k *KnownAssigned) Compress(force bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.maybeCompactLocked(force)
}

// ApplyRecoveryInfo replaces the array wholesale with the xid list carried
// by a running-xacts record (the primary-side snapshot of "who is running
// right now"), used when a standby first reaches consistency or observes
// a snapshot-type record rather than an incremental one. Duplicate xids
// within running (prepared transactions can appear more than once across
// the boundary of two overlapping records) are tolerated as Warning per
// DESIGN.md Open Question 3, not treated as corruption.
//
// Every xid that was recorded before this call but is absent from running
// has left the primary's in-progress set (committed, aborted, or — for a
// prepared xact whose coordinator rolled back — simply vanished from the
// snapshot). If k.locks is set, standby locks held on its behalf are
// released, since nothing else will ever tell this standby to drop them.
func (k *KnownAssigned) ApplyRecoveryInfo(ctx context.Context, running []types.XID) {
	sorted := append([]types.XID(nil), running...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Precedes(sorted[j]) })

	k.mu.Lock()
	previous := k.xids
	deduped := sorted[:0]
	var dupes int
	for i, x := range sorted {
		if i > 0 && x == sorted[i-1] {
			dupes++
			continue
		}
		deduped = append(deduped, x)
	}
	k.xids = deduped
	k.tombstones = 0
	k.touchSize()
	if dupes > 0 {
		if k.met != nil {
			k.met.KnownAssignedDuplicate.Add(float64(dupes))
		}
		k.log.Warn("known-assigned: apply_recovery_info saw %d duplicate xid(s)", dupes)
	}
	k.mu.Unlock()

	if k.locks == nil {
		return
	}
	still := make(map[types.XID]bool, len(deduped))
	for _, x := range deduped {
		still[x] = true
	}
	for _, x := range previous {
		if still[x] {
			continue
		}
		if err := k.locks.StandbyReleaseOldLocks(ctx, x); err != nil {
			k.log.Warn("known-assigned: release locks for xid %d: %v", x, err)
		}
	}
}

func (k *KnownAssigned) findLocked(xid types.XID) (int, bool) {
	idx := sort.Search(len(k.xids), func(i int) bool { return !k.xids[i].Precedes(xid) })
	if idx < len(k.xids) && k.xids[idx] == xid {
		return idx, true
	}
	return idx, false
}

func (k *KnownAssigned) removeLocked(xid types.XID) {
	idx, found := k.findLocked(xid)
	if !found {
		return
	}
	k.xids = append(k.xids[:idx], k.xids[idx+1:]...)
}

func (k *KnownAssigned) maybeCompactLocked(force bool) {
	if len(k.xids) == 0 {
		k.tombstones = 0
		return
	}
	if !force {
		span := 0
		if n := len(k.xids); n > 0 {
			span = n
		}
		if span < k.cfg.CompressMinSpan {
			return
		}
		load := float64(len(k.xids)) / float64(len(k.xids)+k.tombstones+1)
		if load >= k.cfg.CompressLoadFactor {
			return
		}
	}
	compacted := append([]types.XID(nil), k.xids...)
	k.xids = compacted
	k.tombstones = 0
	if k.met != nil {
		k.met.KnownAssignedCompress.Inc()
	}
}

func (k *KnownAssigned) touchSize() {
	if k.met != nil {
		k.met.KnownAssignedSize.Set(float64(len(k.xids)))
	}
}

// Snapshot returns a defensive copy of the currently recorded xids, for
// callers (VisibilityOracle, tests) that need a point-in-time read
// without holding the array locked for the duration of their own work.
func (k *KnownAssigned) Snapshot() []types.XID {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]types.XID(nil), k.xids...)
}
