package main

import (
	"context"
	"sync"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// fakeCollab is a trivial in-memory stand-in for the storage engine's
// ClogProbe, SubtransLog, ShardSource, and StandbyLockReleaser collab
// interfaces, so the demo shell has something real to exercise them
// against rather than passing nil everywhere. A real embedder wires these
// to its own commit log, subtransaction map, and shard table instead.
type fakeCollab struct {
	mu        sync.Mutex
	committed map[types.XID]bool
	aborted   map[types.XID]bool
	parents   map[types.XID]types.XID
	prepared  map[types.XID]bool
	shard     []int
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{
		committed: map[types.XID]bool{},
		aborted:   map[types.XID]bool{},
		parents:   map[types.XID]types.XID{},
		prepared:  map[types.XID]bool{},
		shard:     []int{0, 1, 2, 3},
	}
}

// TransactionIdDidCommit implements collab.ClogProbe.
func (f *fakeCollab) TransactionIdDidCommit(xid types.XID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed[xid]
}

// TransactionIdDidAbort implements collab.ClogProbe.
func (f *fakeCollab) TransactionIdDidAbort(xid types.XID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[xid]
}

// markCommitted records xid as committed in the fake commit log, called by
// cmdCommit so IsInProgress's clog recheck has something real to consult.
func (f *fakeCollab) markCommitted(xid types.XID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed[xid] = true
}

// SubTransGetTopmost implements collab.SubtransLog.
func (f *fakeCollab) SubTransGetTopmost(xid types.XID) types.XID {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		parent, ok := f.parents[xid]
		if !ok || !parent.Valid() {
			return xid
		}
		xid = parent
	}
}

// ExtendSubtrans implements collab.SubtransLog.
func (f *fakeCollab) ExtendSubtrans(xid, parent types.XID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parents[xid] = parent
}

// CopyShardBitmap implements collab.ShardSource.
func (f *fakeCollab) CopyShardBitmap(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.shard))
	copy(out, f.shard)
	return out, nil
}

// GetShardGroupSize implements collab.ShardSource.
func (f *fakeCollab) GetShardGroupSize(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shard), nil
}

// StandbyReleaseOldLocks implements collab.StandbyLockReleaser.
func (f *fakeCollab) StandbyReleaseOldLocks(ctx context.Context, xid types.XID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prepared, xid)
	return nil
}

// StandbyTransactionIdIsPrepared implements collab.StandbyLockReleaser.
func (f *fakeCollab) StandbyTransactionIdIsPrepared(xid types.XID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared[xid]
}
