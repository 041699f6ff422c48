package standby

import (
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/txcoord/internal/types"
)

// Controller wraps a KnownAssigned array with the "every ControlInterval
// replayed records, consider compacting" trigger a standby's redo loop
// runs inline. The actual compaction is dispatched onto a bounded pool so
// a burst of WAL records can keep recording into the array without
// waiting on the compaction pass to finish.
type Controller struct {
	ka      *KnownAssigned
	pool    *ants.Pool
	counter int
}

// NewController wraps ka with a background compress trigger backed by a
// single-worker pool (compaction is not parallelizable across itself, so
// more than one worker would just queue behind the array's own mutex).
func NewController(ka *KnownAssigned) (*Controller, error) {
	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Controller{ka: ka, pool: pool}, nil
}

// Close releases the background pool.
func (c *Controller) Close() { c.pool.Release() }

// RecordAndMaybeCompress records xid and, every ControlInterval calls,
// submits a non-blocking background (non-forced) compress pass.
func (c *Controller) RecordAndMaybeCompress(xid types.XID) {
	c.ka.Record(xid)
	c.counter++
	if c.counter < c.ka.cfg.ControlInterval {
		return
	}
	c.counter = 0
	if err := c.pool.Submit(func() { c.ka.Compress(false) }); err != nil {
		// Pool saturated (capacity 1, a prior compress still running) —
		// fine to skip, the next interval will try again.
		_ = err
	}
}
