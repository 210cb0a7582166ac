package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Denied   *prometheus.CounterVec
	Degraded prometheus.Gauge
	Errors   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Denied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_ratelimit_denied_total",
			Help: "Requests rejected by the rate limiter, by request class",
		}, []string{"class"}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "custody_ratelimit_degraded",
			Help: "1 while the limiter serves from the in-memory fallback",
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_ratelimit_store_errors_total",
			Help: "Failed checks against the primary rate limit store",
		}),
	}
}

func (m *Metrics) IncDenied(class string) {
	if m == nil {
		return
	}
	m.Denied.WithLabelValues(class).Inc()
}

func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.Errors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
