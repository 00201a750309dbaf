package metrics

import "github.com/prometheus/client_golang/prometheus"

// VCSMetrics tracks calls to VCS provider APIs.
type VCSMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewVCSMetrics(reg prometheus.Registerer) *VCSMetrics {
	m := &VCSMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vcs",
			Name:      "requests_total",
			Help:      "Total number of VCS API requests, by service and status class.",
		}, []string{"service", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vcs",
			Name:      "request_duration_seconds",
			Help:      "Duration of VCS API requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}

	reg.MustRegister(m.Requests, m.RequestDuration)
	return m
}
