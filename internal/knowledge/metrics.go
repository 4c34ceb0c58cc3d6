package knowledge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "retrievals_total",
			Help:      "Total knowledge retrieval calls",
		},
		[]string{"domain", "status"},
	)

	retrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aerodesk",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of embed + similarity search in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	retrievalResultsCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aerodesk",
			Name:      "retrieval_results_count",
			Help:      "Number of passages returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 30},
		},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "classifications_total",
			Help:      "Documents classified per domain at ingestion",
		},
		[]string{"domain"},
	)

	embedCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "embed_calls_total",
			Help:      "Total embedding API calls",
		},
		[]string{"status"},
	)

	embedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aerodesk",
			Name:      "embed_duration_seconds",
			Help:      "Duration of embedding API calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// ObserveClassification records a classification outcome for monitoring.
func ObserveClassification(domain Domain) {
	classificationsTotal.WithLabelValues(string(domain)).Inc()
}
