// Package metrics exposes Prometheus collectors for catalog sync runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Outcome labels shared by the pipeline stages.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeMiss    = "miss"
)

// Recorder owns a private registry so each run (and each test) starts from zero.
// A nil *Recorder is a valid no-op recorder.
type Recorder struct {
	registry *prometheus.Registry

	rowsTotal           prometheus.Counter
	resolutionsTotal    *prometheus.CounterVec
	extractionsTotal    *prometheus.CounterVec
	extractionDuration  prometheus.Histogram
	mergesTotal         *prometheus.CounterVec
	catalogSize         prometheus.Gauge
	inFlight            prometheus.Gauge
	renderDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		rowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "catalog_source_rows_total",
			Help: "Total number of URL-shaped rows ingested from the source.",
		}),
		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_resolutions_total",
			Help: "Resolver tier attempts, labeled by tier and outcome.",
		}, []string{"tier", "outcome"}),
		extractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_extractions_total",
			Help: "Product page extractions, labeled by pass and outcome.",
		}, []string{"pass", "outcome"}),
		extractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_extraction_duration_seconds",
			Help:    "Histogram of product page extraction latencies.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		mergesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_merges_total",
			Help: "Records merged into the catalog, labeled by pass and kind (new or update).",
		}, []string{"pass", "kind"}),
		catalogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_size",
			Help: "Number of records in the catalog.",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_operations_in_flight",
			Help: "Number of pipeline operations currently running.",
		}),
		renderDelaysSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_render_rate_limit_delays_seconds",
			Help:    "Histogram of per-host pacing waits before navigation.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler returns an http.Handler serving this recorder's metrics.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Push sends the current values to a Prometheus Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, runID string) error {
	if r == nil || gatewayURL == "" {
		return nil
	}
	pusher := push.New(gatewayURL, job).Gatherer(r.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// AddRows counts ingested rows.
func (r *Recorder) AddRows(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsTotal.Add(float64(n))
}

// ObserveResolution counts one resolver tier attempt.
func (r *Recorder) ObserveResolution(tier, outcome string) {
	if r == nil {
		return
	}
	r.resolutionsTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveExtraction records one extraction and its latency.
func (r *Recorder) ObserveExtraction(pass, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.extractionsTotal.WithLabelValues(pass, outcome).Inc()
	r.extractionDuration.Observe(duration.Seconds())
}

// ObserveMerge counts one merged record.
func (r *Recorder) ObserveMerge(pass string, created bool) {
	if r == nil {
		return
	}
	kind := "update"
	if created {
		kind = "new"
	}
	r.mergesTotal.WithLabelValues(pass, kind).Inc()
}

// SetCatalogSize sets the catalog size gauge.
func (r *Recorder) SetCatalogSize(n int) {
	if r == nil {
		return
	}
	r.catalogSize.Set(float64(n))
}

// IncInFlight increments the in-flight operations gauge.
func (r *Recorder) IncInFlight() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// DecInFlight decrements the in-flight operations gauge.
func (r *Recorder) DecInFlight() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}

// ObserveRenderDelay records a pacing wait before navigation.
func (r *Recorder) ObserveRenderDelay(host string, duration time.Duration) {
	if r == nil {
		return
	}
	r.renderDelaysSeconds.WithLabelValues(SanitizeSite(host)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (r *Recorder) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
