package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collection counters exposed for scraping. Registration
// goes through an explicit registry so tests can use their own.
type Metrics struct {
	RunsStarted  prometheus.Counter
	ItemsTotal   *prometheus.CounterVec
	StepDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_runs_started_total",
			Help: "Number of batch collection runs started.",
		}),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_items_total",
			Help: "Items processed, by outcome.",
		}, []string{"outcome"}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_step_duration_seconds",
			Help:    "Time spent extracting and saving one item.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.RunsStarted, m.ItemsTotal, m.StepDuration)
	return m
}

// MetricsHandler returns the scrape endpoint handler for the registry.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
