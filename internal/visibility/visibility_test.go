package visibility

import (
	"testing"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/procarray"
	"github.com/kartikbazzad/txcoord/internal/snapshot"
	"github.com/kartikbazzad/txcoord/internal/types"
)

type fakeClog struct {
	committed map[types.XID]bool
	aborted   map[types.XID]bool
}

func (f *fakeClog) TransactionIdDidCommit(xid types.XID) bool { return f.committed[xid] }
func (f *fakeClog) TransactionIdDidAbort(xid types.XID) bool  { return f.aborted[xid] }

func newTestRegistry(t *testing.T) *procarray.Registry {
	t.Helper()
	cfg := config.ProcArrayConfig{MaxProcs: 8, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 2}
	return procarray.NewRegistry(cfg, groupCfg, nil, nil)
}

func TestIsInProgressBoundaryCases(t *testing.T) {
	reg := newTestRegistry(t)
	o := NewOracle(reg, nil, &fakeClog{}, nil, nil)

	if o.IsInProgress(types.InvalidXid) {
		t.Fatal("IsInProgress(InvalidXid) must be false")
	}
	if o.IsInProgress(types.FrozenXid) {
		t.Fatal("IsInProgress(FrozenXid) must be false")
	}
}

func TestIsInProgressLiveBackend(t *testing.T) {
	reg := newTestRegistry(t)
	o := NewOracle(reg, nil, &fakeClog{}, nil, nil)

	s, err := reg.Add(1, 1, 1, 1, false, false)
	if err != nil {
		t.Fatal(err)
	}
	xid := reg.Globals().AllocateXid()
	s.SetXID(xid)

	if !o.IsInProgress(xid) {
		t.Fatalf("expected xid %d to be in progress", xid)
	}

	reg.EndTransaction(s, xid)
	if o.IsInProgress(xid) {
		t.Fatalf("expected xid %d to no longer be in progress after EndTransaction", xid)
	}
}

func TestXidVisibleCommittedBeforeXmin(t *testing.T) {
	reg := newTestRegistry(t)
	clog := &fakeClog{committed: map[types.XID]bool{5: true}}
	o := NewOracle(reg, nil, clog, nil, nil)

	snap := &snapshot.Snapshot{Xmin: 10, Xmax: 20}
	if !o.XidVisible(5, snap) {
		t.Fatal("a committed xid older than xmin must be visible")
	}
}

func TestXidVisibleInProgressNotVisible(t *testing.T) {
	reg := newTestRegistry(t)
	clog := &fakeClog{committed: map[types.XID]bool{15: true}}
	o := NewOracle(reg, nil, clog, nil, nil)

	snap := &snapshot.Snapshot{Xmin: 10, Xmax: 20, Xip: []types.XID{15}}
	if o.XidVisible(15, snap) {
		t.Fatal("an xid listed in the snapshot's xip must not be visible even if later committed")
	}
}

func TestXidVisibleFutureNotVisible(t *testing.T) {
	reg := newTestRegistry(t)
	o := NewOracle(reg, nil, &fakeClog{}, nil, nil)

	snap := &snapshot.Snapshot{Xmin: 10, Xmax: 20}
	if o.XidVisible(25, snap) {
		t.Fatal("an xid at or after xmax must never be visible")
	}
}
