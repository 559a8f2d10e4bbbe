package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	memoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_memory_operations_total",
			Help: "Total number of memory store operations.",
		},
		[]string{"operation", "status"}, // status: success, error
	)

	memoryOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_memory_operation_duration_seconds",
			Help:    "Duration of memory store operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	memoryEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_memory_evicted_total",
			Help: "Total number of memory items deactivated by eviction.",
		},
	)

	memoryExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "novel_memory_extracted_total",
			Help: "Total number of memory items extracted from chapter text.",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_memory_cache_lookups_total",
			Help: "Embedded index item cache lookups.",
		},
		[]string{"result"}, // hit, miss
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
