// Package metrics collects and exposes the gateway's Prometheus
// metrics: forwarding attempts and outcomes, attempt latency, circuit
// and fuse activity, dispatcher pool counters, and admission
// rejections. All metrics live in their own registry so tests can
// instantiate isolated collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"skyroute-hq/charon/pkg/config"
)

// Circuit state gauge values.
const (
	CircuitClosed   = 0
	CircuitOpen     = 1
	CircuitHalfOpen = 2
)

// Metrics is the gateway's metric collector. A disabled collector
// still accepts every call and records nothing.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	sendsTotal         *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	fuseOpeningsTotal  *prometheus.CounterVec
	admissionRejected  *prometheus.CounterVec
	poolSize           prometheus.Gauge
	poolHitsTotal      prometheus.Counter
	poolMissesTotal    prometheus.Counter
	poolEvictionsTotal prometheus.Counter

	poolMu      sync.Mutex
	lastHits    int64
	lastMisses  int64
	lastEvicted int64
}

// New creates a collector registered into the given registry. A nil
// registry gets a fresh one.
func New(cfg *config.MetricsConfig, registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "charon"
	}
	buckets := cfg.AttemptDurationBuckets
	if len(buckets) == 0 {
		// Tuned for LLM upstream latencies (100ms to 5min).
		buckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}
	}
	enabled := cfg.Enabled == nil || *cfg.Enabled

	m := &Metrics{
		enabled:  enabled,
		registry: registry,

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_attempts_total",
				Help:      "Forwarding attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_attempt_duration_seconds",
				Help:      "Per-attempt latency in seconds",
				Buckets:   buckets,
			},
			[]string{"provider"},
		),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Completed sends by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"scope", "key"},
		),
		fuseOpeningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fuse_openings_total",
				Help:      "Vendor fuse openings by vendor and provider type",
			},
			[]string{"vendor", "provider_type"},
		),
		admissionRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_rejections_total",
				Help:      "Admission refusals by provider and reason",
			},
			[]string{"provider", "reason"},
		),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_pool_size",
			Help:      "Live dispatcher pool entries",
		}),
		poolHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_pool_hits_total",
			Help:      "Dispatcher pool cache hits",
		}),
		poolMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_pool_misses_total",
			Help:      "Dispatcher pool cache misses",
		}),
		poolEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_pool_evictions_total",
			Help:      "Dispatcher pool evictions",
		}),
	}

	if enabled {
		registry.MustRegister(
			m.attemptsTotal,
			m.attemptDuration,
			m.sendsTotal,
			m.circuitState,
			m.fuseOpeningsTotal,
			m.admissionRejected,
			m.poolSize,
			m.poolHitsTotal,
			m.poolMissesTotal,
			m.poolEvictionsTotal,
		)
	}
	return m
}

// ObserveAttempt records one forwarding attempt's outcome and latency.
func (m *Metrics) ObserveAttempt(providerID, outcome string, seconds float64) {
	if !m.enabled {
		return
	}
	m.attemptsTotal.WithLabelValues(providerID, outcome).Inc()
	m.attemptDuration.WithLabelValues(providerID).Observe(seconds)
}

// RecordSendOutcome records the final outcome of one logical send.
func (m *Metrics) RecordSendOutcome(providerID, outcome string) {
	if !m.enabled {
		return
	}
	m.sendsTotal.WithLabelValues(providerID, outcome).Inc()
}

// SetCircuitState updates the circuit state gauge for a scope+key.
func (m *Metrics) SetCircuitState(scope, key string, state int) {
	if !m.enabled {
		return
	}
	m.circuitState.WithLabelValues(scope, key).Set(float64(state))
}

// RecordFuseOpen counts one vendor fuse opening.
func (m *Metrics) RecordFuseOpen(vendorID, providerType string) {
	if !m.enabled {
		return
	}
	m.fuseOpeningsTotal.WithLabelValues(vendorID, providerType).Inc()
}

// RecordAdmissionRejected counts one admission refusal.
func (m *Metrics) RecordAdmissionRejected(providerID, reason string) {
	if !m.enabled {
		return
	}
	m.admissionRejected.WithLabelValues(providerID, reason).Inc()
}

// SetPoolStats refreshes the dispatcher pool gauges from a stats
// snapshot. Counters are cumulative; the caller supplies totals and
// the collector tracks deltas.
func (m *Metrics) SetPoolStats(cacheSize int, hits, misses, evicted int64) {
	if !m.enabled {
		return
	}
	m.poolSize.Set(float64(cacheSize))

	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	m.poolHitsTotal.Add(counterDelta(&m.lastHits, hits))
	m.poolMissesTotal.Add(counterDelta(&m.lastMisses, misses))
	m.poolEvictionsTotal.Add(counterDelta(&m.lastEvicted, evicted))
}

// counterDelta returns the non-negative increment since the last
// observed total and advances the cursor.
func counterDelta(last *int64, total int64) float64 {
	d := total - *last
	if d < 0 {
		d = 0
	}
	*last = total
	return float64(d)
}

// Registry returns the underlying registry for handler mounting.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
