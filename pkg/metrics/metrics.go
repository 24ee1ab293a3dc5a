// Package metrics provides Prometheus instrumentation for crawl runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// MetricsNamespace is the namespace for all metrics.
	MetricsNamespace = "web_to_sheets"

	// MetricsSubsystem is the subsystem for crawl engine metrics.
	MetricsSubsystem = "crawl"
)

// Metrics holds all Prometheus metrics for crawl runs. A nil *Metrics is valid
// and records nothing, so components never need to check for it.
type Metrics struct {
	registry *prometheus.Registry

	PagesFetched     *prometheus.CounterVec
	FetchRetries     *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	PolicyDenials    *prometheus.CounterVec
	RobotsFetches    *prometheus.CounterVec
	RecordsExtracted *prometheus.CounterVec
	RecordsKept      *prometheus.CounterVec
	SeedFailures     *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RunsTotal        *prometheus.CounterVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m.PagesFetched = counter("pages_fetched_total", "Pages fetched successfully", "site")
	m.FetchRetries = counter("fetch_retries_total", "Fetch attempts retried after a transient status", "site")
	m.FetchFailures = counter("fetch_failures_total", "Fetches that ended in a terminal error", "site", "category")
	m.PolicyDenials = counter("policy_denials_total", "URLs denied by the allow-list or robots.txt", "site", "reason")
	m.RobotsFetches = counter("robots_fetches_total", "robots.txt lookups that went to the network", "outcome")
	m.RecordsExtracted = counter("records_extracted_total", "Records extracted from pages", "site")
	m.RecordsKept = counter("records_kept_total", "Records that survived deduplication", "site")
	m.SeedFailures = counter("seed_failures_total", "Seed URLs that produced no records due to an error", "site", "category")
	m.RunsTotal = counter("runs_total", "Completed site runs", "site", "status")
	m.RunDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystem,
		Name:      "run_duration_seconds",
		Help:      "Duration of a full site run",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	}, []string{"site"})

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PageFetched(site string) {
	if m != nil {
		m.PagesFetched.WithLabelValues(site).Inc()
	}
}

func (m *Metrics) FetchRetried(site string) {
	if m != nil {
		m.FetchRetries.WithLabelValues(site).Inc()
	}
}

func (m *Metrics) FetchFailed(site, category string) {
	if m != nil {
		m.FetchFailures.WithLabelValues(site, category).Inc()
	}
}

func (m *Metrics) PolicyDenied(site, reason string) {
	if m != nil {
		m.PolicyDenials.WithLabelValues(site, reason).Inc()
	}
}

func (m *Metrics) RobotsFetched(outcome string) {
	if m != nil {
		m.RobotsFetches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Extracted(site string, n int) {
	if m != nil && n > 0 {
		m.RecordsExtracted.WithLabelValues(site).Add(float64(n))
	}
}

func (m *Metrics) Kept(site string, n int) {
	if m != nil && n > 0 {
		m.RecordsKept.WithLabelValues(site).Add(float64(n))
	}
}

func (m *Metrics) SeedFailed(site, category string) {
	if m != nil {
		m.SeedFailures.WithLabelValues(site, category).Inc()
	}
}

// RunFinished records a completed run's status and duration in seconds.
func (m *Metrics) RunFinished(site, status string, seconds float64) {
	if m != nil {
		m.RunsTotal.WithLabelValues(site, status).Inc()
		m.RunDuration.WithLabelValues(site).Observe(seconds)
	}
}
