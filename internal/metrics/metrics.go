package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NoncesAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_engine_nonces_allocated_total",
			Help: "Total number of contract nonces consumed by batch signing",
		},
		[]string{"contract"},
	)

	NonceConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "distribution_engine_nonce_conflicts_total",
			Help: "Total number of nonce compare-and-swap attempts that lost a race",
		},
	)

	BatchesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "distribution_engine_batches_created_total",
			Help: "Total number of batches created",
		},
	)

	BatchTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_engine_batch_transitions_total",
			Help: "Total number of batch execution state transitions",
		},
		[]string{"status"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distribution_engine_reconcile_duration_seconds",
			Help:    "Duration of confirmation reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
	)

	ReconcileErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "distribution_engine_reconcile_errors_total",
			Help: "Total number of failed receipt lookups during reconciliation",
		},
	)
)
