package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics tracks session cache lookups per layer (memory, redis, postgres).
type CacheMetrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Invalidations prometheus.Counter
	Entries       prometheus.Gauge
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "hits_total",
			Help:      "Total number of session cache hits, by layer.",
		}, []string{"layer"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "misses_total",
			Help:      "Total number of session cache misses, by layer.",
		}, []string{"layer"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "invalidations_total",
			Help:      "Total number of session cache invalidations.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session_cache",
			Name:      "memory_entries",
			Help:      "Sessions currently held in the in-memory layer.",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Invalidations, m.Entries)
	return m
}
