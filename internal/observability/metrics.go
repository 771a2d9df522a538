package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion runs. Everything is labeled by source so the violations and
// weather feeds stay distinguishable on one dashboard.
type Metrics struct {
	RecordsFetched     *prometheus.CounterVec // labels: source
	RecordsQuarantined *prometheus.CounterVec // labels: source
	RowsUpserted       *prometheus.CounterVec // labels: source
	FetchRetries       *prometheus.CounterVec // labels: source
	RunsTotal          *prometheus.CounterVec // labels: source, state={completed,failed}
	RunActive          *prometheus.GaugeVec   // labels: source

	BatchUpsertDuration *prometheus.HistogramVec // labels: source
	RunDuration         *prometheus.HistogramVec // labels: source
}

// NewMetrics creates and registers all run metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsFetched,
		m.RecordsQuarantined,
		m.RowsUpserted,
		m.FetchRetries,
		m.RunsTotal,
		m.RunActive,
		m.BatchUpsertDuration,
		m.RunDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "violations_etl",
			Name:      "records_fetched_total",
			Help:      "Total raw records fetched from the source APIs.",
		}, []string{"source"}),
		RecordsQuarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "violations_etl",
			Name:      "records_quarantined_total",
			Help:      "Total records rejected by normalization.",
		}, []string{"source"}),
		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "violations_etl",
			Name:      "rows_upserted_total",
			Help:      "Total rows written through insert-or-update batches.",
		}, []string{"source"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "violations_etl",
			Name:      "fetch_retries_total",
			Help:      "Total retried source requests after transient failures.",
		}, []string{"source"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "violations_etl",
			Name:      "runs_total",
			Help:      "Ingestion runs by terminal state.",
		}, []string{"source", "state"}),
		RunActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "violations_etl",
			Name:      "run_active",
			Help:      "1 while a run for the source holds its lease.",
		}, []string{"source"}),
		BatchUpsertDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "violations_etl",
			Name:      "batch_upsert_duration_seconds",
			Help:      "Duration of one upsert transaction.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "violations_etl",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-upsert run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
	}
}
