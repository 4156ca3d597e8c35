package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const metricsNamespace = "projtrack"

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "store_operations_total",
		Help:      "Store operations by type and final outcome",
	}, []string{"operation", "outcome"})

	operationAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "store_operation_attempts",
		Help:      "Attempts used per store operation",
		Buckets:   []float64{1, 2, 3, 4, 5, 8},
	}, []string{"operation"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "store_retries_total",
		Help:      "Retry attempts by error class",
	}, []string{"class"})

	pendingQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pending_operations_queued_total",
		Help:      "Writes stored in the pending slot",
	})

	pendingReplayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pending_replays_total",
		Help:      "Pending operation replays by outcome",
	}, []string{"outcome"})

	backupOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "backup_operations_total",
		Help:      "Backup operations by type and status",
	}, []string{"operation", "status"})

	backupDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "backup_duration_seconds",
		Help:      "Time to create or restore a backup",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"operation", "status"})

	backupSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "backup_size_bytes",
		Help:      "Size of the most recent backup in bytes",
	})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "integrity_checks_total",
		Help:      "Integrity checks by result",
	}, []string{"result"})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "recoveries_total",
		Help:      "Recovery runs by result",
	}, []string{"result"})
)

var tracer = otel.Tracer("projtrack.resilience")
