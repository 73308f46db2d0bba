package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_peers_total",
			Help: "Total number of live peers in cluster state",
		},
	)

	BucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_buckets_total",
			Help: "Total number of non-deleted buckets",
		},
	)

	ObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anvil_objects_total",
			Help: "Total number of non-deleted objects by region",
		},
		[]string{"region"},
	)

	// Raft metrics (global control plane)
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_raft_is_leader",
			Help: "Whether this node is the global control plane Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// External RPC / S3 gateway metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_requests_total",
			Help: "Total number of requests by surface, method, and status",
		},
		[]string{"surface", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_request_duration_seconds",
			Help:    "Request duration in seconds by surface and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface", "method"},
	)

	// Object Manager put/get path metrics
	PutObjectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_put_object_duration_seconds",
			Help:    "Time taken to complete put_object in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GetObjectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_get_object_duration_seconds",
			Help:    "Time taken to complete get_object in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ShardRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_shard_rpc_duration_seconds",
			Help:    "Time taken for an internal shard RPC in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ShardRPCFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_shard_rpc_failures_total",
			Help: "Total number of failed internal shard RPCs by op",
		},
		[]string{"op"},
	)

	CodecReconstructionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_codec_reconstructions_total",
			Help: "Total number of shard codec reconstruct calls",
		},
	)

	// Task queue metrics
	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_tasks_claimed_total",
			Help: "Total number of tasks claimed by workers, by type",
		},
		[]string{"type"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_tasks_completed_total",
			Help: "Total number of tasks completed, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	TaskHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anvil_task_handler_duration_seconds",
			Help:    "Task handler execution duration in seconds, by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Gossip membership metrics
	GossipSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_gossip_sweeps_total",
			Help: "Total number of membership expiry sweep cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PeersTotal,
		BucketsTotal,
		ObjectsTotal,
		RaftLeader,
		RaftApplyDuration,
		RequestsTotal,
		RequestDuration,
		PutObjectDuration,
		GetObjectDuration,
		ShardRPCDuration,
		ShardRPCFailuresTotal,
		CodecReconstructionsTotal,
		TasksClaimedTotal,
		TasksCompletedTotal,
		TaskHandlerDuration,
		GossipSweepsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
