package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics counts entitlement cache traffic.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations prometheus.Counter
	evictions     prometheus.Counter
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		return &CacheMetrics{}
	}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement_cache",
		Name:      "lookups_total",
		Help:      "Entitlement lookups by result (hit, miss, error).",
	}, []string{"result"})
	invalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement_cache",
		Name:      "invalidations_total",
		Help:      "Entitlement cache invalidations.",
	})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement_cache",
		Name:      "evictions_total",
		Help:      "Entries dropped by the sweeper.",
	})
	reg.MustRegister(lookups, invalidations, evictions)
	return &CacheMetrics{lookups: lookups, invalidations: invalidations, evictions: evictions}
}

func (m *CacheMetrics) Lookup(result string) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *CacheMetrics) Invalidated() {
	if m == nil || m.invalidations == nil {
		return
	}
	m.invalidations.Inc()
}

func (m *CacheMetrics) Evicted(n int) {
	if m == nil || m.evictions == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// TransitionMetrics counts subscription state machine outcomes.
type TransitionMetrics struct {
	outcomes *prometheus.CounterVec
}

func NewTransitionMetrics(reg prometheus.Registerer) *TransitionMetrics {
	if reg == nil {
		return &TransitionMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscriptions",
		Name:      "transitions_total",
		Help:      "Lifecycle events applied to subscriptions by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(outcomes)
	return &TransitionMetrics{outcomes: outcomes}
}

func (m *TransitionMetrics) Record(kind, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
