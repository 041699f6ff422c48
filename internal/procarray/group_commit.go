// Group-commit clearing (C6, spec.md §4.6): when a backend cannot get the
// registry's exclusive lock cheaply at transaction end, it links itself
// onto a lock-free wait chain instead of blocking on the mutex directly.
// Whoever is already holding (or next acquires) the lock drains the whole
// chain in one critical section, then wakes every follower.
//
// Grounded on docdb/internal/wal/group_commit.go's batch-buffer-and-
// single-fsync shape: many callers append and wait, one of them ends up
// doing the single expensive operation (there, an fsync; here, the
// registry exclusive-lock critical section) on behalf of the whole batch.
// The CAS-linked-list admission queue is reinterpreted from that file's
// mutex-protected slice into a wait-free Treiber stack, since admission
// here must not itself block on the very lock the batch is trying to
// avoid contending on.
package procarray

import (
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// groupCommit implements the wait-chain protocol over a Registry's slots.
type groupCommit struct {
	r    *Registry
	head atomicSlotRef
	pool *ants.Pool
}

// atomicSlotRef wraps the chain head: the index of the most recently
// linked slot, or invalidSlot when the chain is empty.
type atomicSlotRef struct {
	v atomic.Int32
}

func (a *atomicSlotRef) load() int32 { return a.v.Load() }
func (a *atomicSlotRef) store(x int32) { a.v.Store(x) }
func (a *atomicSlotRef) cas(old, new int32) bool { return a.v.CompareAndSwap(old, new) }
func (a *atomicSlotRef) swap(x int32) int32 { return a.v.Swap(x) }

func newGroupCommit(r *Registry) *groupCommit {
	concurrency := r.groupCfg.FanoutConcurrency
	if concurrency <= 0 {
		concurrency = 32
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		// ants.NewPool only fails on a non-positive size, which we just
		// guarded against; fall back to an unbounded goroutine-per-wake
		// fanout if it somehow still happens.
		pool = nil
	}
	gc := &groupCommit{r: r, pool: pool}
	gc.head.store(invalidSlot)
	return gc
}

// enqueue links proc onto the wait chain carrying latestXid as the value
// to be merged into LatestCompletedXid once a leader drains the chain.
// The first goroutine to successfully CAS onto an empty chain becomes
// leader and drains it itself (step 3-5 below); everyone else parks on
// their own semaphore until the leader wakes them.
func (gc *groupCommit) enqueue(proc *ProcSlot, latestXid types.XID) {
	proc.groupMemberXid.Store(uint32(latestXid))
	proc.groupMember.Store(true)

	// Step 1: CAS proc onto the head of the chain, reading the current
	// head as proc's "next" pointer.
	for {
		oldHead := gc.head.load()
		proc.groupNext.Store(oldHead)
		if gc.head.cas(oldHead, int32(proc.SlotIndex())) {
			if oldHead == invalidSlot {
				// Step 2: chain was empty before this CAS — proc leads.
				gc.drain(proc)
				return
			}
			break
		}
	}

	// Step 3: follower. Park on this slot's own semaphore until the
	// eventual leader drains the chain and wakes it (step 5).
	<-proc.groupSem
}

// drain runs as the chain leader: acquire the exclusive lock once, pop
// every member linked onto the chain (including any that joined after
// this goroutine became leader but before the lock was acquired, via a
// final CAS-swap to hand off a fresh empty chain), clear each one, then
// wake every follower outside the lock.
func (gc *groupCommit) drain(leader *ProcSlot) {
	// Step 4: once the lock is held, swap the chain head back to empty,
	// taking ownership of the whole chain as it stood at this instant.
	// Anyone who links in after this swap sees an empty chain and becomes
	// a new leader of their own, rather than being silently dropped.
	gc.r.mu.Lock()
	chainHead := gc.head.swap(invalidSlot)

	var members []*ProcSlot
	maxXid := types.InvalidXid
	for idx := chainHead; idx != invalidSlot; {
		m := gc.r.slots[idx]
		members = append(members, m)
		x := types.XID(m.groupMemberXid.Load())
		if maxXid == types.InvalidXid || maxXid.Precedes(x) {
			maxXid = x
		}
		idx = m.groupNext.Load()
	}
	if maxXid.Valid() {
		gc.r.globals.AdvanceLatestCompletedXid(maxXid)
	}
	for _, m := range members {
		checkSlotOwnedForClear(m)
		commitTs := m.ClearForCommit()
		if commitTs.Valid() {
			gc.r.globals.AdvanceLatestCommitTs(commitTs.Value)
			gc.r.globals.AdvanceLatestGTS(commitTs)
		}
	}
	gc.r.mu.Unlock()

	if gc.r.met != nil {
		gc.r.met.GroupCommitMembers.Add(float64(len(members)))
		gc.r.met.GroupCommitBatches.WithLabelValues("leader").Observe(float64(len(members)))
	}

	// Step 5: wake every follower (everyone but the leader itself, who
	// never parked). Fan the wakeups out through the bounded pool so a
	// large batch doesn't serialize its wakeups behind the leader.
	for _, m := range members {
		if m.SlotIndex() == leader.SlotIndex() {
			m.groupMember.Store(false)
			continue
		}
		mm := m
		wake := func() {
			mm.groupMember.Store(false)
			mm.groupSem <- struct{}{}
		}
		if gc.pool != nil {
			if err := gc.pool.Submit(wake); err != nil {
				wake()
			}
		} else {
			wake()
		}
	}
}
