// Package config holds the coordinator's plain-struct configuration, with
// a DefaultConfig() constructor — the same shape docdb's config package
// uses for its WAL/scheduler/healing knobs, generalized to ProcArray sizing,
// group-commit batching, GTS sourcing, and standby recovery tuning.
package config

import "time"

type Config struct {
	Proc     ProcArrayConfig
	Group    GroupCommitConfig
	GTS      GTSConfig
	Standby  StandbyConfig
	Vacuum   VacuumConfig
	Metrics  MetricsConfig
}

// ProcArrayConfig sizes the shared process registry.
type ProcArrayConfig struct {
	MaxProcs         int // max concurrent backends (fixed-size slot array)
	MaxCachedSubxids int // per-slot inline subxid cache size before overflow
	NodeRole         NodeRole
}

type NodeRole int

const (
	RoleStandalone NodeRole = iota
	RoleCoordinator
	RoleDataNode
)

// GroupCommitConfig tunes C6's lock-amortized clearing.
type GroupCommitConfig struct {
	// FollowerWaitTimeout is carried in the config but not read by the
	// group-commit code: a follower parks on its semaphore with no timeout
	// until the leader wakes it (uninterruptible by design, spec §5).
	FollowerWaitTimeout time.Duration
	// FanoutConcurrency is the ants.Pool size used by the leader to post
	// follower semaphores concurrently once the exclusive lock is released.
	FanoutConcurrency int
}

// GTSMode selects the start-timestamp provider policy (C8).
type GTSMode int

const (
	GTSModeOracle GTSMode = iota
	GTSModeCoordinator
	GTSModeLocal
)

type GTSConfig struct {
	Mode           GTSMode
	OracleAddr     string        // dial target for the timestamp oracle RPC
	OracleTimeout  time.Duration // per-attempt RPC timeout
	VacuumDeltaNs  uint64        // vacuum_delta subtracted from latestGTS to get RecentCommitTs for the SnapshotTooOld check; no RecentDataTs is computed
}

// StandbyConfig tunes C7's known-assigned array and compression thresholds.
type StandbyConfig struct {
	ControlInterval     int     // Record calls between background compress attempts (standby.Controller); the array itself has no fixed capacity
	CompressLoadFactor   float64 // non-forced compress() runs only when the live-entry ratio is below this
	CompressMinSpan      int     // non-forced compress() runs only when at least this many live entries remain; not scaled by MaxProcs
}

type VacuumConfig struct {
	DeferCleanupAge uint32 // vacuum_defer_cleanup_age, live mode only
}

type MetricsConfig struct {
	Enabled bool
	Addr    string // promhttp listen address, e.g. ":9090"
}

func DefaultConfig() *Config {
	return &Config{
		Proc: ProcArrayConfig{
			MaxProcs:         1024,
			MaxCachedSubxids: 64,
			NodeRole:         RoleStandalone,
		},
		Group: GroupCommitConfig{
			FollowerWaitTimeout: 50 * time.Millisecond,
			FanoutConcurrency:   32,
		},
		GTS: GTSConfig{
			Mode:          GTSModeLocal,
			OracleTimeout: 50 * time.Millisecond,
			VacuumDeltaNs: 0,
		},
		Standby: StandbyConfig{
			ControlInterval:    64,
			CompressLoadFactor: 0.5,
			CompressMinSpan:    4,
		},
		Vacuum: VacuumConfig{
			DeferCleanupAge: 0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}
