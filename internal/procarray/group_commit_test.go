package procarray

import (
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/types"
)

func TestGroupCommitClearsAllMembers(t *testing.T) {
	const n = 64
	cfg := config.ProcArrayConfig{MaxProcs: n, MaxCachedSubxids: 4}
	groupCfg := config.GroupCommitConfig{FollowerWaitTimeout: time.Second, FanoutConcurrency: 8}
	r := NewRegistry(cfg, groupCfg, nil, nil)

	slots := make([]*ProcSlot, n)
	xids := make([]types.XID, n)
	for i := 0; i < n; i++ {
		s, err := r.Add(1, 1, i, int64(i), false, false)
		if err != nil {
			t.Fatal(err)
		}
		xid := r.globals.AllocateXid()
		s.SetXID(xid)
		s.SetXmin(xid)
		slots[i] = s
		xids[i] = xid
	}

	var maxXid types.XID
	for _, x := range xids {
		if maxXid == types.InvalidXid || maxXid.Precedes(x) {
			maxXid = x
		}
	}

	// Hold the lock briefly at the start to force every concurrent
	// EndTransaction call to race on TryLock and fall into the
	// group-commit wait chain rather than clearing inline.
	r.mu.Lock()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.EndTransaction(slots[i], xids[i])
		}()
	}
	time.Sleep(20 * time.Millisecond)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for group-commit clearing to complete")
	}

	for i, s := range slots {
		if s.XID() != types.InvalidXid {
			t.Fatalf("slot %d not cleared: xid=%d", i, s.XID())
		}
	}
	if r.globals.LatestCompletedXid() != maxXid {
		t.Fatalf("want latestCompletedXid %d, got %d", maxXid, r.globals.LatestCompletedXid())
	}
}
