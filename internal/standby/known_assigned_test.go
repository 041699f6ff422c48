package standby

import (
	"context"
	"testing"

	"github.com/kartikbazzad/txcoord/internal/config"
	"github.com/kartikbazzad/txcoord/internal/types"
)

func newTestKnownAssigned(t *testing.T) *KnownAssigned {
	t.Helper()
	cfg := config.StandbyConfig{ControlInterval: 8, CompressLoadFactor: 0.5, CompressMinSpan: 4}
	return NewKnownAssigned(cfg, nil, nil, nil, nil)
}

func TestRecordAscendingAndSearch(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.Record(10)
	k.Record(11)
	k.Record(12)

	if !k.Search(11, false) {
		t.Fatal("expected 11 to be present")
	}
	if k.Search(99, false) {
		t.Fatal("99 was never recorded")
	}
	if k.GetOldestXmin() != 10 {
		t.Fatalf("want oldest 10, got %d", k.GetOldestXmin())
	}
}

func TestRecordOutOfOrderPanics(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.Record(10)
	k.Record(20)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on out-of-order Record")
		}
	}()
	k.Record(15)
}

func TestExpireTreeRemovesXidAndSubxids(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.Record(10)
	k.Record(11)
	k.Record(12)

	k.ExpireTree(11, []types.XID{12})

	if k.Search(11, false) || k.Search(12, false) {
		t.Fatal("expected 11 and 12 to be expired")
	}
	if !k.Search(10, false) {
		t.Fatal("expected 10 to remain")
	}
}

func TestExpirePreceding(t *testing.T) {
	k := newTestKnownAssigned(t)
	for _, x := range []types.XID{5, 6, 7, 8} {
		k.Record(x)
	}
	k.ExpirePreceding(7)
	if k.Search(5, false) || k.Search(6, false) {
		t.Fatal("expected 5 and 6 to be expired")
	}
	if !k.Search(7, false) || !k.Search(8, false) {
		t.Fatal("expected 7 and 8 to remain")
	}
}

func TestApplyRecoveryInfoDedups(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.ApplyRecoveryInfo(context.Background(), []types.XID{30, 10, 20, 10})

	snap := k.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("want 3 distinct xids after dedup, got %d: %v", len(snap), snap)
	}
	if snap[0] != 10 || snap[1] != 20 || snap[2] != 30 {
		t.Fatalf("expected sorted [10 20 30], got %v", snap)
	}
}

func TestGetAndSetXminClampsToXmax(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.ApplyRecoveryInfo(context.Background(), []types.XID{50})

	var out types.XID
	k.GetAndSetXmin(&out, 40)
	if out != 40 {
		t.Fatalf("expected clamp to xmax 40, got %d", out)
	}

	k.GetAndSetXmin(&out, 100)
	if out != 50 {
		t.Fatalf("expected oldest 50, got %d", out)
	}
}

func TestResetClears(t *testing.T) {
	k := newTestKnownAssigned(t)
	k.Record(1)
	k.Reset()
	if k.GetOldestXmin() != types.InvalidXid {
		t.Fatal("expected empty array after reset")
	}
}
