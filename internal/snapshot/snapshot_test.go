package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/gts"
	"github.com/kartikbazzad/txcoord/internal/procarray"
	"github.com/kartikbazzad/txcoord/internal/standby"
	"github.com/kartikbazzad/txcoord/internal/types"
)

func newTestBuilder(t *testing.T) (*Builder, *procarray.Registry) {
	t.Helper()
	procCfg := config.ProcArrayConfig{MaxProcs: 16, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 4}
	reg := procarray.NewRegistry(procCfg, groupCfg, nil, nil)
	gtsCfg := config.GTSConfig{Mode: config.GTSModeLocal}
	src := gts.NewSource(gtsCfg, nil, nil)
	b := NewBuilder(reg, nil, src, procCfg, gtsCfg, nil, nil, nil)
	return b, reg
}

func TestBuildZeroWriterSnapshot(t *testing.T) {
	b, _ := newTestBuilder(t)
	snap, err := b.Build(context.Background(), types.InvalidGTS)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Xip) != 0 {
		t.Fatalf("expected no in-progress xids, got %v", snap.Xip)
	}
	if snap.Xmin != snap.Xmax {
		t.Fatalf("expected xmin == xmax with no writers, got xmin=%d xmax=%d", snap.Xmin, snap.Xmax)
	}
}

func TestBuildWithActiveWriter(t *testing.T) {
	b, reg := newTestBuilder(t)
	s, err := reg.Add(1, 1, 1, 1, false, false)
	if err != nil {
		t.Fatal(err)
	}
	xid := reg.Globals().AllocateXid()
	s.SetXID(xid)
	s.SetXmin(xid)

	snap, err := b.Build(context.Background(), types.InvalidGTS)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Contains(xid) {
		t.Fatalf("expected snapshot to list the active writer %d as in-progress, got %v", xid, snap.Xip)
	}
	if snap.Xmin != xid {
		t.Fatalf("expected xmin == active writer's xid %d, got %d", xid, snap.Xmin)
	}
}

func TestBuildFromKnownAssignedOnStandby(t *testing.T) {
	procCfg := config.ProcArrayConfig{MaxProcs: 4, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 2}
	reg := procarray.NewRegistry(procCfg, groupCfg, nil, nil)

	standbyCfg := config.StandbyConfig{ControlInterval: 8, CompressLoadFactor: 0.5, CompressMinSpan: 4}
	ka := standby.NewKnownAssigned(standbyCfg, nil, nil, nil, nil)
	ka.ApplyRecoveryInfo(context.Background(), []types.XID{100, 105})

	gtsCfg := config.GTSConfig{Mode: config.GTSModeLocal}
	src := gts.NewSource(gtsCfg, nil, nil)
	b := NewBuilder(reg, ka, src, procCfg, gtsCfg, nil, nil, nil)

	snap, err := b.Build(context.Background(), types.InvalidGTS)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TakenDuringRecovery {
		t.Fatal("expected TakenDuringRecovery when built from KnownAssignedXids")
	}
	if snap.Xmin != 100 {
		t.Fatalf("want xmin 100, got %d", snap.Xmin)
	}
	if !snap.StartTs.Local {
		t.Fatal("expected recovery builds to always stamp a Local GTS")
	}
}

func TestBuildSnapshotTooOld(t *testing.T) {
	procCfg := config.ProcArrayConfig{MaxProcs: 16, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 4}
	reg := procarray.NewRegistry(procCfg, groupCfg, nil, nil)
	gtsCfg := config.GTSConfig{Mode: config.GTSModeLocal, VacuumDeltaNs: 100}
	src := gts.NewSource(gtsCfg, nil, nil)
	b := NewBuilder(reg, nil, src, procCfg, gtsCfg, nil, nil, nil)

	reg.Globals().AdvanceLatestGTS(types.GTS{Value: 1000})

	// RecentCommitTs = max(0, 1000-100) = 900; a coordinator hint of 5 is
	// well below that horizon.
	_, err := b.Build(context.Background(), types.GTS{Value: 5})
	if err == nil {
		t.Fatal("expected SnapshotTooOld when start_ts precedes latestGTS-vacuum_delta")
	}
}

func TestBuildSnapshotNotTooOldWithinVacuumDelta(t *testing.T) {
	procCfg := config.ProcArrayConfig{MaxProcs: 16, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 4}
	reg := procarray.NewRegistry(procCfg, groupCfg, nil, nil)
	gtsCfg := config.GTSConfig{Mode: config.GTSModeLocal, VacuumDeltaNs: 100}
	src := gts.NewSource(gtsCfg, nil, nil)
	b := NewBuilder(reg, nil, src, procCfg, gtsCfg, nil, nil, nil)

	reg.Globals().AdvanceLatestGTS(types.GTS{Value: 1000})

	if _, err := b.Build(context.Background(), types.GTS{Value: 950}); err != nil {
		t.Fatalf("expected no SnapshotTooOld at start_ts 950 (horizon 900), got %v", err)
	}
}

func TestBuildPrepareTimestampsCarried(t *testing.T) {
	b, reg := newTestBuilder(t)
	s, err := reg.Add(1, 1, 1, 1, false, false)
	if err != nil {
		t.Fatal(err)
	}
	xid := reg.Globals().AllocateXid()
	s.SetXID(xid)
	s.SetXmin(xid)
	s.SetPrepareTimestamp(types.GTS{Value: 5000})
	s.SetSubxids([]types.XID{xid + 1})

	snap, err := b.Build(context.Background(), types.InvalidGTS)
	if err != nil {
		t.Fatal(err)
	}
	ts, ok := snap.PrepareTimestamp(xid)
	if !ok || ts.Value != 5000 {
		t.Fatalf("expected prepare timestamp 5000 for xid %d, got %+v ok=%v", xid, ts, ok)
	}
	subTs, ok := snap.PrepareTimestamp(xid + 1)
	if !ok || subTs.Value != 5000 {
		t.Fatalf("expected subxid to carry the parent's prepare timestamp, got %+v ok=%v", subTs, ok)
	}
}
