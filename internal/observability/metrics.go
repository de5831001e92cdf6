package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tavern_oracle"

// Metrics collects orchestrator metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	completions     *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cooldowns       *prometheus.CounterVec
	completionTime  *prometheus.HistogramVec
	providersOnline prometheus.Gauge
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completions served, by provider and outcome (success, cached, fallback).",
		}, []string{"provider", "outcome"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider calls made, by provider and result.",
		}, []string{"provider", "result"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by result (hit, miss).",
		}, []string{"result"}),
		cooldowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cooldowns_total",
			Help:      "Times a provider was put on cooldown after a serious error.",
		}, []string{"provider"}),
		completionTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "End-to-end completion latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		providersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "providers_available",
			Help:      "Remote providers currently available.",
		}),
	}
}

// RecordCompletion counts a finished completion and observes its latency
func (m *Metrics) RecordCompletion(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(provider, outcome).Inc()
	m.completionTime.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordAttempt counts one provider call
func (m *Metrics) RecordAttempt(provider, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, result).Inc()
}

// RecordCacheLookup counts a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordCooldown counts a provider cooldown
func (m *Metrics) RecordCooldown(provider string) {
	if m == nil {
		return
	}
	m.cooldowns.WithLabelValues(provider).Inc()
}

// SetProvidersAvailable sets the available remote provider gauge
func (m *Metrics) SetProvidersAvailable(n int) {
	if m == nil {
		return
	}
	m.providersOnline.Set(float64(n))
}
