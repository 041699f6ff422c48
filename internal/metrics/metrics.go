// Package metrics exposes ProcArray/Snapshot/KnownAssignedXids
// instrumentation via the real Prometheus client library.
//
// docdb's own metrics package hand-rolled a text exporter that formatted
// Prometheus exposition format by hand (internal/metrics/prometheus.go in
// the teacher tree). The rest of the retrieval pack — bun-kms, functions,
// erigon-lib — all depend directly on github.com/prometheus/client_golang
// instead, so this package keeps the teacher's metric *names and shape*
// (counters by operation/status, gauges, durations) but registers them as
// real prometheus.Collectors and serves them with promhttp, rather than
// re-deriving exposition-format text by hand.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the coordinator publishes. One Registry is
// constructed per process and threaded through Registry/SnapshotBuilder/
// standby as an optional dependency. A nil *Registry is a valid "metrics
// disabled" value: Handler degrades to a 404, and every other package that
// holds a *Registry field guards each use with a nil check before touching
// it, so tests can omit metrics wiring entirely.
type Registry struct {
	reg *prometheus.Registry

	SnapshotsBuilt      *prometheus.CounterVec
	SnapshotBuildSeconds prometheus.Histogram
	SnapshotTooOld       prometheus.Counter

	RegistrySize      prometheus.Gauge
	RegistryFullTotal prometheus.Counter

	GroupCommitBatches *prometheus.HistogramVec
	GroupCommitMembers prometheus.Counter

	KnownAssignedSize      prometheus.Gauge
	KnownAssignedCompress  prometheus.Counter
	KnownAssignedDuplicate prometheus.Counter
	KnownAssignedGapFilled prometheus.Counter

	OracleRequests *prometheus.CounterVec
}

// NewRegistry constructs and registers every coordinator metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SnapshotsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "snapshot",
			Name:      "built_total",
			Help:      "Snapshots built, by whether they required a shard bitmap.",
		}, []string{"shard_map"}),
		SnapshotBuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txcoord",
			Subsystem: "snapshot",
			Name:      "build_seconds",
			Help:      "Time to build a snapshot, registry lock acquisition included.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotTooOld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "snapshot",
			Name:      "too_old_total",
			Help:      "Snapshot builds rejected with SnapshotTooOld.",
		}),
		RegistrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txcoord",
			Subsystem: "procarray",
			Name:      "active_backends",
			Help:      "Current number of occupied ProcSlots.",
		}),
		RegistryFullTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "procarray",
			Name:      "registry_full_total",
			Help:      "Add() calls rejected with TooManyClients.",
		}),
		GroupCommitBatches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "txcoord",
			Subsystem: "group_commit",
			Name:      "batch_size",
			Help:      "Number of slots cleared per group-commit leader pass.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}, []string{"role"}),
		GroupCommitMembers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "group_commit",
			Name:      "members_cleared_total",
			Help:      "Total ProcSlots cleared via group-commit (leader + follower).",
		}),
		KnownAssignedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txcoord",
			Subsystem: "standby",
			Name:      "known_assigned_size",
			Help:      "Entries currently occupying the known-assigned array (tail..head).",
		}),
		KnownAssignedCompress: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "standby",
			Name:      "compress_total",
			Help:      "Known-assigned compress() cycles run.",
		}),
		KnownAssignedDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "standby",
			Name:      "duplicate_total",
			Help:      "Duplicate xids observed during apply_recovery_info (prepared xacts, best-effort).",
		}),
		KnownAssignedGapFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "standby",
			Name:      "gap_filled_total",
			Help:      "Intermediate xids synthesized by Record to close a gap in the known-assigned array.",
		}),
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcoord",
			Subsystem: "gts",
			Name:      "oracle_requests_total",
			Help:      "Timestamp oracle RPCs, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.SnapshotsBuilt, r.SnapshotBuildSeconds, r.SnapshotTooOld,
		r.RegistrySize, r.RegistryFullTotal,
		r.GroupCommitBatches, r.GroupCommitMembers,
		r.KnownAssignedSize, r.KnownAssignedCompress, r.KnownAssignedDuplicate, r.KnownAssignedGapFilled,
		r.OracleRequests,
	)
	return r
}

// Handler returns an http.Handler serving this registry in Prometheus
// exposition format, for mounting under e.g. /metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
