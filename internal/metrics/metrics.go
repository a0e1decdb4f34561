// Package metrics provides Prometheus metrics for the vault adapter and the
// devnet storage handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signer lock metrics
	signerWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vestalia_signer_wait_seconds",
			Help:    "Time spent waiting for the signer lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	signerHoldDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vestalia_signer_hold_seconds",
			Help:    "Time the signer lock was held",
			Buckets: prometheus.DefBuckets,
		},
	)

	signerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vestalia_signer_queue_depth",
			Help: "Signed operations waiting for or holding the signer lock",
		},
	)

	// Cascade metrics
	strategyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_strategy_attempts_total",
			Help: "Strategy attempts per operation and outcome",
		},
		[]string{"operation", "strategy", "outcome"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_operations_total",
			Help: "Adapter operations by final status",
		},
		[]string{"operation", "status"},
	)

	ghostReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_ghost_reconciliations_total",
			Help: "Filetree entries removed after their content was found missing",
		},
		[]string{"status"},
	)

	// Transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vestalia_bytes_downloaded_total",
			Help: "Total bytes downloaded from the vault",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vestalia_bytes_uploaded_total",
			Help: "Total bytes queued for upload",
		},
	)

	// Provider pool metrics
	providerPoolLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_provider_pool_loads_total",
			Help: "Provider pool bootstrap attempts",
		},
		[]string{"result"},
	)

	providerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vestalia_provider_pool_size",
			Help: "Number of providers in the last loaded pool",
		},
	)

	// Prefetch metrics
	prefetchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vestalia_prefetch_in_flight",
			Help: "Preview fetches currently running",
		},
	)

	prefetchCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_prefetch_cache_total",
			Help: "Preview cache lookups",
		},
		[]string{"result"},
	)

	// Change events
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_events_total",
			Help: "Total change events published",
		},
		[]string{"type"},
	)

	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vestalia_event_subscribers",
			Help: "Number of active change event subscribers",
		},
	)

	// Devnet ledger metrics
	txTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_devnet_tx_total",
			Help: "Devnet transactions by result",
		},
		[]string{"result"},
	)

	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vestalia_db_query_duration_seconds",
			Help:    "Filetree index query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vestalia_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vestalia_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ObserveSignerWait records how long a caller queued for the signer lock.
func ObserveSignerWait(d time.Duration) {
	signerWaitDuration.Observe(d.Seconds())
}

// ObserveSignerHold records how long the signer lock was held.
func ObserveSignerHold(d time.Duration) {
	signerHoldDuration.Observe(d.Seconds())
}

// AddSignerQueue adjusts the signer queue depth.
func AddSignerQueue(delta int) {
	signerQueueDepth.Add(float64(delta))
}

// RecordStrategy records one strategy attempt. Outcome is one of success,
// failed, skipped or fatal.
func RecordStrategy(operation, strategy, outcome string) {
	strategyAttemptsTotal.WithLabelValues(operation, strategy, outcome).Inc()
}

// RecordOperation records the final status of an adapter operation.
func RecordOperation(operation string, success bool) {
	operationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordGhostReconciliation records a filetree-only delete.
func RecordGhostReconciliation(success bool) {
	ghostReconciliationsTotal.WithLabelValues(status(success)).Inc()
}

// RecordDownload adds downloaded bytes.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordUpload adds uploaded bytes.
func RecordUpload(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordProviderPoolLoad records a bootstrap attempt. result is one of
// cached, loaded or failed.
func RecordProviderPoolLoad(result string, size int) {
	providerPoolLoadsTotal.WithLabelValues(result).Inc()
	if size > 0 {
		providerPoolSize.Set(float64(size))
	}
}

// AddPrefetchInFlight adjusts the running prefetch count.
func AddPrefetchInFlight(delta int) {
	prefetchInFlight.Add(float64(delta))
}

// RecordPrefetchCache records a preview cache hit or miss.
func RecordPrefetchCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	prefetchCacheTotal.WithLabelValues(result).Inc()
}

// RecordEvent records a change event publication.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// SetEventSubscribers sets the number of event subscribers.
func SetEventSubscribers(count int) {
	eventSubscribers.Set(float64(count))
}

// RecordTx records a devnet transaction result.
func RecordTx(result string) {
	txTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, status(success)).Inc()
}
