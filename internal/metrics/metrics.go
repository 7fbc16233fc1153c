// Package metrics exposes Prometheus instrumentation for the harvest and
// query paths. Recording is fire-and-forget: a metrics problem never fails
// the operation being measured.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HarvestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "disclosure_radar",
			Name:      "harvest_runs_total",
			Help:      "Total harvest runs by outcome",
		},
		[]string{"mode", "status"},
	)

	HarvestItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "disclosure_radar",
			Name:      "harvest_items_total",
			Help:      "Harvested items by result",
		},
		[]string{"result"}, // "collected" / "failed"
	)

	HarvestRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "disclosure_radar",
			Name:      "harvest_run_duration_seconds",
			Help:      "Harvest run duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"mode"},
	)

	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "disclosure_radar",
			Name:      "query_requests_total",
			Help:      "Disclosure queries by index strategy and status",
		},
		[]string{"strategy", "status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "disclosure_radar",
			Name:      "query_duration_seconds",
			Help:      "Disclosure query duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"strategy"},
	)

	BulkUnprocessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "disclosure_radar",
			Name:      "bulk_unprocessed_total",
			Help:      "Items left unprocessed after bulk-write retries",
		},
	)
)

var registered bool

// Register registers all metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(HarvestRunsTotal)
	prometheus.MustRegister(HarvestItemsTotal)
	prometheus.MustRegister(HarvestRunDuration)
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(BulkUnprocessedTotal)
	registered = true
}
