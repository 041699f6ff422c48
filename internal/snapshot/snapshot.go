// Package snapshot implements C4 SnapshotBuilder: assembling the
// consistent point-in-time view (spec.md §3 Snapshot, §4.4) a new
// transaction reads through.
//
// Grounded on docdb/internal/docdb/mvcc.go's MVCC.IsVisible /
// CurrentSnapshot shape (a cheap "what's the highest committed id"
// cursor plus a visibility predicate) generalized from a single
// currentTxID counter to a full xmin/xmax/xip/subxip/prepare_xip
// snapshot. Every Build allocates a fresh Snapshot and fresh xip/subxip/
// prepare slices (xip sized to the active slot count); buffers are not
// reused across builds.
package snapshot

import (
	"context"
	"time"

	"github.com/kartikbazzad/txcoord/internal/bitmapset"
	"github.com/kartikbazzad/txcoord/internal/collab"
	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/errs"
	"github.com/kartikbazzad/txcoord/internal/gts"
	"github.com/kartikbazzad/txcoord/internal/logger"
	"github.com/kartikbazzad/txcoord/internal/metrics"
	"github.com/kartikbazzad/txcoord/internal/procarray"
	"github.com/kartikbazzad/txcoord/internal/standby"
	"github.com/kartikbazzad/txcoord/internal/types"
)

// Snapshot is a consistent view of which transactions are visible
// (spec.md §3). Xip holds top-level in-progress xids, SubXip holds cached
// in-progress subtransaction xids.
//
// PrepareXip holds xids that are PREPARED, with PrepareXipTs carrying the
// exact prepare_timestamp each one published (spec.md §4.4 step 5); the
// two slices are parallel — PrepareXipTs[i] is the timestamp for
// PrepareXip[i]. PrepareSubxip/PrepareSubxipTs are the same pairing for a
// prepared backend's cached subxids (the parent's prepare timestamp is
// replicated across them, since a subxid's own fate is tied to its
// parent's prepare/commit).
type Snapshot struct {
	Xmin         types.XID
	Xmax         types.XID
	Xip          []types.XID
	SubXip       []types.XID
	PrepareXmin  types.XID
	PrepareXip   []types.XID
	PrepareXipTs []types.GTS

	PrepareSubxip   []types.XID
	PrepareSubxipTs []types.GTS

	StartTs types.GTS
	Shard   *bitmapset.Set

	TakenDuringRecovery bool
}

// Contains reports whether xid is listed as in-progress (top-level,
// cached subxid, or prepared, top-level or subxid) in this snapshot, i.e.
// a plain membership test without consulting xmin/xmax at all.
// VisibilityOracle uses this as one step of its own, fuller IsInProgress
// check.
func (s *Snapshot) Contains(xid types.XID) bool {
	for _, x := range s.Xip {
		if x == xid {
			return true
		}
	}
	for _, x := range s.SubXip {
		if x == xid {
			return true
		}
	}
	for _, x := range s.PrepareXip {
		if x == xid {
			return true
		}
	}
	for _, x := range s.PrepareSubxip {
		if x == xid {
			return true
		}
	}
	return false
}

// PrepareTimestamp returns the prepare_timestamp recorded for xid in this
// snapshot's prepare_xip/prepare_subxip lists, matching spec.md §4.5's
// is_prepared(xid, snapshot) -> Option<GTS>: top-level and subxid matches
// both report directly from the snapshot the reader is holding, rather
// than re-querying the live registry (which may have moved on).
func (s *Snapshot) PrepareTimestamp(xid types.XID) (types.GTS, bool) {
	for i, x := range s.PrepareXip {
		if x == xid {
			return s.PrepareXipTs[i], true
		}
	}
	for i, x := range s.PrepareSubxip {
		if x == xid {
			return s.PrepareSubxipTs[i], true
		}
	}
	return types.InvalidGTS, false
}

// Builder is C4 SnapshotBuilder.
type Builder struct {
	reg    *procarray.Registry
	ka     *standby.KnownAssigned // non-nil only on a standby node
	src    *gts.Source
	cfg    config.ProcArrayConfig
	gtsCfg config.GTSConfig
	met    *metrics.Registry
	log    *logger.Logger
	shard  collab.ShardSource // nil on an unsharded deployment
}

// NewBuilder constructs a Builder. ka may be nil on a primary/standalone
// node (there is nothing to reconstruct from WAL); shard may be nil on an
// unsharded deployment.
func NewBuilder(reg *procarray.Registry, ka *standby.KnownAssigned, src *gts.Source, cfg config.ProcArrayConfig, gtsCfg config.GTSConfig, met *metrics.Registry, log *logger.Logger, shard collab.ShardSource) *Builder {
	if log == nil {
		log = logger.Default()
	}
	return &Builder{reg: reg, ka: ka, src: src, cfg: cfg, gtsCfg: gtsCfg, met: met, log: log, shard: shard}
}

// Build assembles a fresh Snapshot.
//
// On a primary/standalone node it scans the live ProcRegistry under the
// shared lock. On a standby (ka != nil) it instead consults the
// WAL-reconstructed KnownAssignedXids array, since there are no live
// local backends to scan. Either way: xmax is one past the highest
// completed xid, xmin is the oldest xid still possibly relevant to any
// reader, and the in-progress lists are taken from the same source as
// xmin so they stay consistent with each other.
func (b *Builder) Build(ctx context.Context, coordinatorHint types.GTS) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		if b.met != nil {
			b.met.SnapshotBuildSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	snap := &Snapshot{TakenDuringRecovery: b.ka != nil}

	if b.ka != nil {
		b.buildFromKnownAssigned(snap)
	} else {
		b.buildFromRegistry(snap)
	}

	ts, err := b.src.Resolve(ctx, b.ka != nil, coordinatorHint)
	if err != nil {
		return nil, err
	}
	snap.StartTs = ts

	if !ts.Local {
		if err := b.checkTooOld(snap); err != nil {
			if b.met != nil {
				b.met.SnapshotTooOld.Inc()
			}
			return nil, err
		}
	}

	if b.shard != nil {
		ids, err := b.shard.CopyShardBitmap(ctx)
		if err != nil {
			return nil, err
		}
		shard, err := shardSetFromIDs(ids)
		if err != nil {
			return nil, err
		}
		snap.Shard = shard
	}

	if b.met != nil {
		shardLabel := "none"
		if snap.Shard != nil {
			shardLabel = "present"
		}
		b.met.SnapshotsBuilt.WithLabelValues(shardLabel).Inc()
	}

	return snap, nil
}

// shardSetFromIDs wraps a ShardSource's plain shard-id slice into the
// BitmapSet a Snapshot carries.
func shardSetFromIDs(ids []int) (*bitmapset.Set, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	set := bitmapset.New()
	for _, id := range ids {
		s, err := bitmapset.AddMember(set, id)
		if err != nil {
			return nil, err
		}
		set = s
	}
	return set, nil
}

func (b *Builder) buildFromRegistry(snap *Snapshot) {
	g := b.reg.Globals()

	b.reg.WithSharedLock(func() {
		xmax := g.LatestCompletedXid().Next()
		xmin := types.InvalidXid
		prepareXmin := xmax

		slots := b.reg.ActiveSlots()
		xip := make([]types.XID, 0, len(slots))
		var subxip []types.XID
		var prepareXip, prepareSubxip []types.XID
		var prepareXipTs, prepareSubxipTs []types.GTS

		for _, s := range slots {
			// Capture the prepare timestamp before re-reading xid, and
			// discard the pair if xid changed out from under us
			// (spec.md §4.4 step 5) — the backend committed/aborted and
			// cleared between the two reads.
			prepareTs := s.PrepareTimestamp()
			xid := s.XID()

			if !xid.Valid() {
				continue
			}
			xip = append(xip, xid)

			if prepareTs.Valid() && xid == s.XID() {
				prepareXmin = types.XIDMin(prepareXmin, xid)
				prepareXip = append(prepareXip, xid)
				prepareXipTs = append(prepareXipTs, prepareTs)

				for _, sub := range s.Subxids() {
					prepareSubxip = append(prepareSubxip, sub)
					prepareSubxipTs = append(prepareSubxipTs, prepareTs)
				}
			}

			slotXmin := s.Xmin()
			if slotXmin.Valid() {
				xmin = types.XIDMin(xmin, slotXmin)
			}

			subxip = append(subxip, s.Subxids()...)
		}

		if !xmin.Valid() {
			xmin = xmax
		}

		snap.Xmax = xmax
		snap.Xmin = xmin
		snap.Xip = xip
		snap.SubXip = subxip
		snap.PrepareXmin = prepareXmin
		snap.PrepareXip = prepareXip
		snap.PrepareXipTs = prepareXipTs
		snap.PrepareSubxip = prepareSubxip
		snap.PrepareSubxipTs = prepareSubxipTs
	})
}

func (b *Builder) buildFromKnownAssigned(snap *Snapshot) {
	running := b.ka.Snapshot()

	xmax := types.InvalidXid
	for _, x := range running {
		if xmax == types.InvalidXid || xmax.Precedes(x) {
			xmax = x
		}
	}
	xmax = xmax.Next()

	var xmin types.XID
	b.ka.GetAndSetXmin(&xmin, xmax)

	snap.Xmax = xmax
	snap.Xmin = xmin
	snap.Xip = running
	snap.PrepareXmin = xmax
}

// checkTooOld enforces spec.md §4.4 step 9's SnapshotTooOld rule:
// RecentCommitTs = max(0, latestGTS - vacuum_delta); a snapshot whose
// start_ts is older than that horizon might read data already reclaimed
// by a vacuum run that assumed nothing would ever ask for it again.
func (b *Builder) checkTooOld(snap *Snapshot) error {
	if b.reg == nil {
		return nil
	}
	latestGTS := b.reg.Globals().LatestGTS()

	var recentCommitTs uint64
	if latestGTS.Value > b.gtsCfg.VacuumDeltaNs {
		recentCommitTs = latestGTS.Value - b.gtsCfg.VacuumDeltaNs
	}

	if snap.StartTs.Value < recentCommitTs {
		return errs.Err(errs.ErrSnapshotTooOld)
	}
	return nil
}
