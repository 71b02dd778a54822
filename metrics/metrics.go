// Package metrics provides Prometheus metrics for bundlefs operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlefs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Bundled upload metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_uploads_total",
			Help: "Total number of bundled uploads by outcome",
		},
		[]string{"backend_type", "result"}, // result: "success" or the error kind
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_upload_bytes_total",
			Help: "Bytes copied into backend storage by bundled uploads",
		},
		[]string{"backend_type"},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlefs_upload_duration_seconds",
			Help:    "Bundled upload duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"backend_type"},
	)

	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_upload_rollbacks_total",
			Help: "Partial objects deleted after a failed copy",
		},
		[]string{"backend_type", "status"}, // status: "success", "failed"
	)

	// Metadata store metrics
	MetadataDBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_metadata_db_queries_total",
			Help: "Total number of metadata store queries",
		},
		[]string{"store", "operation"},
	)

	MetadataDBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlefs_metadata_db_query_duration_seconds",
			Help:    "Metadata store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	// Lock manager metrics
	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_lock_operations_total",
			Help: "Total number of lock operations",
		},
		[]string{"operation", "status"}, // operation: "acquire", "downgrade", "refresh", "release"; status: "success", "locked", "lost", "error"
	)

	LockOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bundlefs_lock_operation_duration_seconds",
			Help:    "Lock operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bundlefs_active_locks",
			Help: "Number of lock leases currently held by this process",
		},
	)

	// Hook emission metrics
	HookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundlefs_hook_events_total",
			Help: "Commit notifications emitted",
		},
		[]string{"phase"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bundlefs_event_subscribers",
			Help: "Connected websocket event subscribers",
		},
	)
)
