// Package metrics exposes Prometheus instrumentation for the claim pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the claim pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Decisions by status and tenant
	Decisions *prometheus.CounterVec

	// Pipeline stage latency by stage
	StageLatency *prometheus.HistogramVec

	// Audit store append attempts and outcomes
	RecordAttempts *prometheus.CounterVec

	// Rejected extractions by field and issue kind
	NormalizationIssues *prometheus.CounterVec

	// Catalog reloads by result
	CatalogReloads *prometheus.CounterVec

	// Rules in the active catalog
	CatalogRules prometheus.Gauge

	// Requests rejected by the tenant rate limiter
	RateLimited *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg. A nil registerer
// uses the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medoracle_decisions_total",
			Help: "Total decisions by status",
		}, []string{"status", "tenant"}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medoracle_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}), // stage: normalize, evaluate, decide, record, pipeline

		RecordAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medoracle_record_attempts_total",
			Help: "Audit store append attempts by result",
		}, []string{"result"}), // result: written, duplicate, error, exhausted

		NormalizationIssues: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medoracle_normalization_issues_total",
			Help: "Field issues found while normalizing extractions",
		}, []string{"field", "kind"}),

		CatalogReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medoracle_catalog_reloads_total",
			Help: "Rule catalog reloads by result",
		}, []string{"result"}),

		CatalogRules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medoracle_catalog_rules",
			Help: "Number of rules in the active catalog",
		}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medoracle_rate_limited_total",
			Help: "Requests rejected by the per-tenant rate limiter",
		}, []string{"tenant"}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(status, tenant string) {
	if m != nil {
		m.Decisions.WithLabelValues(status, tenant).Inc()
	}
}

// ObserveStage records the duration of a pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// IncrementRecordAttempt records one audit store attempt result.
func (m *Metrics) IncrementRecordAttempt(result string) {
	if m != nil {
		m.RecordAttempts.WithLabelValues(result).Inc()
	}
}

// IncrementNormalizationIssue records a rejected field.
func (m *Metrics) IncrementNormalizationIssue(field, kind string) {
	if m != nil {
		m.NormalizationIssues.WithLabelValues(field, kind).Inc()
	}
}

// ObserveCatalog records a reload result and the active rule count.
func (m *Metrics) ObserveCatalog(result string, rules int) {
	if m != nil {
		m.CatalogReloads.WithLabelValues(result).Inc()
		if result == "ok" {
			m.CatalogRules.Set(float64(rules))
		}
	}
}

// IncrementRateLimited records a throttled request.
func (m *Metrics) IncrementRateLimited(tenant string) {
	if m != nil {
		m.RateLimited.WithLabelValues(tenant).Inc()
	}
}
