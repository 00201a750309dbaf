package metrics

import "github.com/prometheus/client_golang/prometheus"

// AppMetrics covers logins, session pruning and billing webhooks.
type AppMetrics struct {
	Logins          *prometheus.CounterVec
	SessionsPruned  prometheus.Counter
	BillingWebhooks *prometheus.CounterVec
}

func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Total number of OAuth logins, by service and result.",
		}, []string{"service", "result"}),
		SessionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "pruned_total",
			Help:      "Total number of idle sessions deleted.",
		}),
		BillingWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhooks_total",
			Help:      "Total number of billing webhooks received, by event type and result.",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(m.Logins, m.SessionsPruned, m.BillingWebhooks)
	return m
}

// ObservePruned matches the session pruner callback.
func (m *AppMetrics) ObservePruned(n int64) {
	m.SessionsPruned.Add(float64(n))
}
