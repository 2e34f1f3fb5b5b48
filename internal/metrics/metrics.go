// Package metrics holds the Prometheus collectors for ledger activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chronochain_blocks_appended_total",
		Help: "Total blocks appended to a ledger.",
	})

	appendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronochain_append_failures_total",
		Help: "Total rejected appends by error kind.",
	}, []string{"kind"})

	chainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chronochain_chain_length",
		Help: "Number of blocks in the most recently touched ledger.",
	})

	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronochain_validations_total",
		Help: "Total validation passes by result.",
	}, []string{"result"})

	validationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chronochain_validation_duration_seconds",
		Help:    "Duration of full-chain validation passes.",
		Buckets: prometheus.DefBuckets,
	})

	storageOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chronochain_storage_operations_total",
		Help: "Total load/save operations by storage driver and result.",
	}, []string{"driver", "op", "result"})

	storageOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chronochain_storage_operation_duration_seconds",
		Help:    "Duration of load/save operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"driver", "op"})
)

// RecordAppend records a successful append and the resulting chain length.
func RecordAppend(length int) {
	blocksAppendedTotal.Inc()
	chainLength.Set(float64(length))
}

// RecordAppendFailure records a rejected append.
func RecordAppendFailure(kind string) {
	appendFailuresTotal.WithLabelValues(kind).Inc()
}

// SetChainLength sets the chain length gauge, e.g. after a load.
func SetChainLength(length int) {
	chainLength.Set(float64(length))
}

// RecordValidation records the outcome of a validation pass.
// result is one of "valid", "invalid" or "interrupted".
func RecordValidation(result string, d time.Duration) {
	validationsTotal.WithLabelValues(result).Inc()
	validationDuration.Observe(d.Seconds())
}

// RecordStorage records a load or save against a storage driver.
func RecordStorage(driver, op string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	storageOpsTotal.WithLabelValues(driver, op, result).Inc()
	storageOpDuration.WithLabelValues(driver, op).Observe(d.Seconds())
}
