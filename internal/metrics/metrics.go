// Package metrics records catalog traffic and report figures for Prometheus.
// A run is short-lived, so metrics are exported with the textfile collector format rather than served.
package metrics

import (
	"net/http"

	"github.com/naka-gawa/grade-report/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grade_report"

// Recorder holds the registry and the collectors of a run.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reportEntries   *prometheus.GaugeVec
	listingFailures *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_requests_total",
				Help:      "Tracks the number of catalog API requests.",
			}, []string{"code", "method"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "catalog_request_duration_seconds",
				Help:      "Tracks the latencies of catalog API requests.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"method"},
		),
		reportEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "report_entries",
				Help:      "Number of supported images per grade in the last report of a listing.",
			}, []string{"listing", "grade"},
		),
		listingFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listing_failures_total",
				Help:      "Tracks the listings whose report could not be built or delivered.",
			}, []string{"listing"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// InstrumentTransport wraps next so that every catalog request is counted and timed.
func (r *Recorder) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if r == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperCounter(r.requestsTotal,
		promhttp.InstrumentRoundTripperDuration(r.requestDuration, next),
	)
}

// ObserveReport sets the per-grade entry gauges of a listing.
func (r *Recorder) ObserveReport(listingID string, counts domain.GradeCount) {
	if r == nil {
		return
	}
	for _, g := range domain.GradeOrder {
		r.reportEntries.WithLabelValues(listingID, string(g)).Set(float64(counts[g]))
	}
}

// ListingFailed counts a failed listing.
func (r *Recorder) ListingFailed(listingID string) {
	if r == nil {
		return
	}
	r.listingFailures.WithLabelValues(listingID).Inc()
}

// WriteTextfile writes the registry to path in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
