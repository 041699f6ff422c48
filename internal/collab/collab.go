// Package collab declares the narrow interfaces SnapshotBuilder and
// VisibilityOracle consult but never implement themselves: the commit
// log, the subtransaction parent map, shard topology, the timestamp
// oracle transport, and standby lock release (spec.md §6). These are
// owned by the storage engine this coordinator is embedded in; txcoord
// ships only the contracts.
package collab

import (
	"context"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// ClogProbe answers whether a transaction committed or aborted. Backed by
// the storage engine's commit-log (clog) equivalent.
type ClogProbe interface {
	TransactionIdDidCommit(xid types.XID) bool
	TransactionIdDidAbort(xid types.XID) bool
}

// SubtransLog resolves subtransaction parentage, letting the visibility
// check walk a subxid up to its top-level transaction.
type SubtransLog interface {
	SubTransGetTopmost(xid types.XID) types.XID
	ExtendSubtrans(xid, parent types.XID)
}

// ShardSource supplies the shard-ownership bitmap a data node attaches to
// its snapshots in a sharded deployment (C1 BitmapSet's payload).
type ShardSource interface {
	// CopyShardBitmap returns the caller's current shard ownership set,
	// serialized as a sorted shard-id slice (the caller wraps it in a
	// bitmapset.Set; this interface stays storage-engine agnostic).
	CopyShardBitmap(ctx context.Context) ([]int, error)
	GetShardGroupSize(ctx context.Context) (int, error)
}

// TimestampOracle is the transport internal/gts.Source drives; declared
// here so higher-level packages can depend on the interface without
// importing internal/gts directly.
type TimestampOracle interface {
	GetTimestamp(ctx context.Context) (types.GTS, error)
}

// StandbyLockReleaser lets a standby talk to the storage engine about
// locks held for replayed transactions: KnownAssigned.ApplyRecoveryInfo
// calls StandbyReleaseOldLocks for every xid that has left the running
// set, and VisibilityOracle asks StandbyTransactionIdIsPrepared.
type StandbyLockReleaser interface {
	StandbyReleaseOldLocks(ctx context.Context, xid types.XID) error
	StandbyTransactionIdIsPrepared(xid types.XID) bool
}
