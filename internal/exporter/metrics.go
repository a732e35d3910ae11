// Package exporter exposes ingestion and organization metrics to Prometheus.
package exporter

import (
	"net/http"
	"time"

	"github.com/cam3ron2/org-merge-stats/internal/ingest"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "org_merge_stats"

// Metrics holds the ingestion collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	orgRuns          *prometheus.CounterVec
	rowsWritten      *prometheus.CounterVec
	rateLimitWaits   *prometheus.CounterVec
	cycleLastSuccess prometheus.Gauge
	cycleDuration    prometheus.Gauge
	cycleFailures    prometheus.Counter
}

// NewMetrics registers the ingestion collectors. When reader is non-nil the
// current organization snapshots are exported on every scrape.
func NewMetrics(reader SnapshotReader, logger ...*zap.Logger) *Metrics {
	log := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		log = logger[0]
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orgRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "org_runs_total",
			Help:      "Organizations processed by ingestion job and result.",
		}, []string{"job", "result"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written by ingestion job.",
		}, []string{"job"}),
		rateLimitWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "GitHub rate-limit backoffs taken by ingestion job.",
		}, []string{"job"}),
		cycleLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_last_success_unixtime",
			Help:      "Unix time the last ingestion cycle completed without error.",
		}),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of the last ingestion cycle.",
		}),
		cycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Ingestion cycles that ended with an error.",
		}),
	}

	m.registry.MustRegister(
		m.orgRuns,
		m.rowsWritten,
		m.rateLimitWaits,
		m.cycleLastSuccess,
		m.cycleDuration,
		m.cycleFailures,
	)
	if reader != nil {
		m.registry.MustRegister(newSnapshotCollector(reader, log))
	}
	return m
}

// ObserveOutcome records one organization outcome.
func (m *Metrics) ObserveOutcome(job ingest.Job, outcome ingest.Outcome) {
	if m == nil {
		return
	}
	m.orgRuns.WithLabelValues(string(job), string(outcome.Status)).Inc()
	if outcome.Rows > 0 {
		m.rowsWritten.WithLabelValues(string(job)).Add(float64(outcome.Rows))
	}
	if outcome.RateLimitWaits > 0 {
		m.rateLimitWaits.WithLabelValues(string(job)).Add(float64(outcome.RateLimitWaits))
	}
}

// ObserveCycle records the duration and result of one ingestion cycle.
func (m *Metrics) ObserveCycle(duration time.Duration, finishedAt time.Time, err error) {
	if m == nil {
		return
	}
	m.cycleDuration.Set(duration.Seconds())
	if err != nil {
		m.cycleFailures.Inc()
		return
	}
	m.cycleLastSuccess.Set(float64(finishedAt.Unix()))
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return NewOpenMetricsHandler(m.registry)
}
