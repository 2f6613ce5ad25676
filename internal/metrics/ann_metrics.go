package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Index facade metrics
// =============================================================================

var (
	// IndexOpsTotal counts facade operations by backend kind, operation and outcome.
	IndexOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_index_ops_total",
			Help: "Total number of index operations by kind, operation and status",
		},
		[]string{"kind", "op", "status"},
	)

	// IndexOpDuration measures facade operation latency including stream synchronization.
	IndexOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiver_index_op_duration_seconds",
			Help:    "Latency of index operations by kind and operation",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"kind", "op"},
	)

	// IndexVectors tracks the number of vectors held by the most recently updated index of each kind.
	IndexVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quiver_index_vectors",
			Help: "Number of vectors in the index",
		},
		[]string{"kind"},
	)

	// SearchQueriesTotal counts query rows searched.
	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_search_queries_total",
			Help: "Total number of query vectors searched",
		},
		[]string{"kind"},
	)

	// SerializedBytesTotal counts bytes produced or consumed by serialization.
	SerializedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_serialized_bytes_total",
			Help: "Total bytes written or read by index serialization",
		},
		[]string{"direction"},
	)
)

// =============================================================================
// Stream / resource metrics
// =============================================================================

var (
	// StreamTasksTotal counts tasks executed on device streams.
	StreamTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_stream_tasks_total",
			Help: "Total number of tasks executed on device streams",
		},
		[]string{"device", "status"},
	)

	// StreamSyncDuration measures how long callers block in Synchronize.
	StreamSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiver_stream_sync_duration_seconds",
			Help:    "Time spent waiting for device streams to drain",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)
)

// =============================================================================
// Distributed metrics
// =============================================================================

var (
	// CollectiveOpsTotal counts collective steps by operation and outcome.
	CollectiveOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_collective_ops_total",
			Help: "Total number of clique collective operations",
		},
		[]string{"op", "status"},
	)

	// CollectiveDuration measures end-to-end collective latency.
	CollectiveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiver_collective_duration_seconds",
			Help:    "Latency of clique collective operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// MergeCandidatesTotal counts candidates fed into the result merger by mode.
	MergeCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_merge_candidates_total",
			Help: "Total number of shard-local candidates merged",
		},
		[]string{"mode"},
	)

	// ShardRows tracks rows per shard of the last built distributed index.
	ShardRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quiver_shard_rows",
			Help: "Number of rows held by each shard",
		},
		[]string{"rank"},
	)
)

// =============================================================================
// Snapshot storage and dataset metrics
// =============================================================================

var (
	// SnapshotOpsTotal counts storage backend operations.
	SnapshotOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_snapshot_ops_total",
			Help: "Total number of snapshot storage operations by backend, operation and status",
		},
		[]string{"backend", "op", "status"},
	)

	// SnapshotSizeBytes records stored snapshot sizes.
	SnapshotSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiver_snapshot_size_bytes",
			Help:    "Size of stored index snapshots",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12),
		},
	)

	// DatasetRowsLoaded counts rows read by the dataset loaders by format.
	DatasetRowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiver_dataset_rows_loaded_total",
			Help: "Total number of vectors loaded from dataset files",
		},
		[]string{"format"},
	)
)

// BreakerState exposes each circuit breaker's state (0 closed, 1 open, 2 half-open).
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "quiver_breaker_state",
		Help: "Circuit breaker state by name: 0 closed, 1 open, 2 half-open",
	},
	[]string{"name"},
)

// RetryAttemptsTotal counts retried operations by name.
var RetryAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quiver_retry_attempts_total",
		Help: "Total number of retries by operation",
	},
	[]string{"op"},
)

// BufferPoolOpsTotal counts buffer pool traffic by pool and operation.
var BufferPoolOpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quiver_buffer_pool_ops_total",
		Help: "Buffer pool gets, puts and drops",
	},
	[]string{"pool", "op"},
)
