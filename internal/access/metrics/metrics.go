package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks role changes and authorization outcomes.
type Metrics struct {
	RoleChanges *prometheus.CounterVec
	Denials     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoleChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_access_role_changes_total",
			Help: "Role grants and revocations by role and operation",
		}, []string{"role", "op"}),
		Denials: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_access_denials_total",
			Help: "Authorization checks that were denied",
		}),
	}
}

func (m *Metrics) IncRoleChange(role, op string) {
	if m == nil {
		return
	}
	m.RoleChanges.WithLabelValues(role, op).Inc()
}

func (m *Metrics) IncDenial() {
	if m == nil {
		return
	}
	m.Denials.Inc()
}
