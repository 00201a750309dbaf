package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// BreakerMetrics tracks circuit breakers by name (redis, github, gitlab, ...).
type BreakerMetrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
}

func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	m := &BreakerMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state changes, by breaker and target state.",
		}, []string{"name", "to"}),
	}

	reg.MustRegister(m.State, m.Transitions)
	return m
}

// OnStateChange has the shape of gobreaker.Settings.OnStateChange. It logs the
// transition and, on a non-nil receiver, records it.
func (m *BreakerMetrics) OnStateChange(name string, from, to gobreaker.State) {
	slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
	if m == nil {
		return
	}
	m.State.WithLabelValues(name).Set(stateValue(to))
	m.Transitions.WithLabelValues(name, to.String()).Inc()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
