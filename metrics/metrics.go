// Package metrics bundles the Prometheus collectors exported by marketfeed.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvesting engine.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	Registry            *prometheus.Registry
	CollectorRunsTotal  *prometheus.CounterVec
	ItemsTotal          *prometheus.CounterVec
	UpstreamRequests    *prometheus.CounterVec
	CooldownsTotal      prometheus.Counter
	SessionsInUse       prometheus.Gauge
	SessionReplacements prometheus.Counter
	AggregateDuration   prometheus.Histogram
	CacheLookups        *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_collector_runs_total",
			Help: "Collector invocations by source and outcome.",
		},
		[]string{"source", "status"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_items_total",
			Help: "Items harvested by source.",
		},
		[]string{"source"},
	)
	upstream := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_upstream_requests_total",
			Help: "Outbound API requests by outcome.",
		},
		[]string{"outcome"},
	)
	cooldowns := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketfeed_cooldowns_total",
			Help: "Global cooldowns declared after throttling responses.",
		},
	)
	inUse := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketfeed_pool_sessions_in_use",
			Help: "Browser sessions currently checked out.",
		},
	)
	replacements := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketfeed_pool_session_replacements_total",
			Help: "Browser sessions disposed and recreated.",
		},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketfeed_aggregate_duration_seconds",
			Help:    "Wall time of uncached aggregations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
	)
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_cache_lookups_total",
			Help: "Result cache lookups by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(runs, items, upstream, cooldowns, inUse, replacements, duration, lookups)

	return &Metrics{
		Registry:            registry,
		CollectorRunsTotal:  runs,
		ItemsTotal:          items,
		UpstreamRequests:    upstream,
		CooldownsTotal:      cooldowns,
		SessionsInUse:       inUse,
		SessionReplacements: replacements,
		AggregateDuration:   duration,
		CacheLookups:        lookups,
	}
}

// CollectorRun records one collector invocation and the items it produced.
func (m *Metrics) CollectorRun(source, status string, items int) {
	if m == nil {
		return
	}
	m.CollectorRunsTotal.WithLabelValues(source, status).Inc()
	if items > 0 {
		m.ItemsTotal.WithLabelValues(source).Add(float64(items))
	}
}

// IncUpstream increments the outbound request counter for an outcome label.
func (m *Metrics) IncUpstream(outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(outcome).Inc()
}

// IncCooldown increments the cooldown counter.
func (m *Metrics) IncCooldown() {
	if m == nil {
		return
	}
	m.CooldownsTotal.Inc()
}

// SetSessionsInUse sets the checked-out session gauge.
func (m *Metrics) SetSessionsInUse(n int) {
	if m == nil {
		return
	}
	m.SessionsInUse.Set(float64(n))
}

// IncReplacement increments the session replacement counter.
func (m *Metrics) IncReplacement() {
	if m == nil {
		return
	}
	m.SessionReplacements.Inc()
}

// ObserveAggregate records the duration of an uncached aggregation.
func (m *Metrics) ObserveAggregate(d time.Duration) {
	if m == nil {
		return
	}
	m.AggregateDuration.Observe(d.Seconds())
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
