// Package metrics exposes Prometheus collectors for the census crawler stages.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "census_crawler"

// Fetch outcomes recorded per geo unit key.
const (
	OutcomeFetched        = "fetched"
	OutcomeCached         = "cached"
	OutcomeMalformedID    = "malformed_id"
	OutcomeUnparsable     = "unparsable"
	OutcomeTransportError = "transport_error"
)

// Stage names for the last-success gauge.
const (
	StageFetch     = "fetch"
	StageAggregate = "aggregate"
)

// Metrics holds the collectors for both batch stages on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	SourceRows        *prometheus.CounterVec // labels: status={parsed,malformed}
	FetchOutcomes     *prometheus.CounterVec // labels: outcome
	APIDuration       prometheus.Histogram
	ProfilesExtracted prometheus.Counter
	LookupErrors      *prometheus.CounterVec // labels: field
	Exports           *prometheus.CounterVec // labels: sink, status={success,error}
	LastSuccess       *prometheus.GaugeVec   // labels: stage
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SourceRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_total",
			Help:      "Source rows read, labeled by whether the visitor map parsed.",
		}, []string{"status"}),
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Geo unit keys processed by the fetch stage, labeled by outcome.",
		}, []string{"outcome"}),
		APIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Census Profile API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ProfilesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_extracted_total",
			Help:      "Cached profiles flattened into the combined table.",
		}),
		LookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_errors_total",
			Help:      "Indicator lookups that failed, labeled by field.",
		}, []string{"field"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Combined table exports, labeled by sink and status.",
		}, []string{"sink", "status"}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run, labeled by stage.",
		}, []string{"stage"}),
	}

	m.Registry.MustRegister(
		m.SourceRows,
		m.FetchOutcomes,
		m.APIDuration,
		m.ProfilesExtracted,
		m.LookupErrors,
		m.Exports,
		m.LastSuccess,
	)
	return m
}

// ObserveSourceRows records how many source rows parsed and how many were skipped.
func (m *Metrics) ObserveSourceRows(parsed, malformed int) {
	if m == nil {
		return
	}
	m.SourceRows.WithLabelValues("parsed").Add(float64(parsed))
	m.SourceRows.WithLabelValues("malformed").Add(float64(malformed))
}

// ObserveFetch increments the outcome counter for one geo unit key.
func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAPIRequest records one API round trip.
func (m *Metrics) ObserveAPIRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.APIDuration.Observe(d.Seconds())
}

// ObserveExtracted increments the extracted profile counter.
func (m *Metrics) ObserveExtracted() {
	if m == nil {
		return
	}
	m.ProfilesExtracted.Inc()
}

// ObserveLookupError increments the lookup error counter for field.
func (m *Metrics) ObserveLookupError(field string) {
	if m == nil {
		return
	}
	m.LookupErrors.WithLabelValues(field).Inc()
}

// ObserveExport records the result of one sink export.
func (m *Metrics) ObserveExport(sink string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Exports.WithLabelValues(sink, status).Inc()
}

// MarkSuccess stamps the stage's last-success gauge with at.
func (m *Metrics) MarkSuccess(stage string, at time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.WithLabelValues(stage).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
