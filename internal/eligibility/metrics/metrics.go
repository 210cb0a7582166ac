package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks identity lifecycle changes and verification outcomes.
type Metrics struct {
	IdentityChanges    *prometheus.CounterVec
	Verifications      *prometheus.CounterVec
	VerifyDurationSecs prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IdentityChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_eligibility_identity_changes_total",
			Help: "Identity registry mutations by operation",
		}, []string{"op"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_eligibility_verifications_total",
			Help: "Address verifications by outcome reason",
		}, []string{"eligible", "reason"}),
		VerifyDurationSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_eligibility_verify_duration_seconds",
			Help:    "Latency of address verification",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncIdentityChange(op string) {
	if m == nil {
		return
	}
	m.IdentityChanges.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveVerification(eligible bool, reason string, start time.Time) {
	if m == nil {
		return
	}
	label := "false"
	if eligible {
		label = "true"
	}
	if reason == "" {
		reason = "ok"
	}
	m.Verifications.WithLabelValues(label, reason).Inc()
	m.VerifyDurationSecs.Observe(time.Since(start).Seconds())
}
