package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the issuance workflow and the transfer hook.
type Metrics struct {
	Operations       *prometheus.CounterVec
	PendingRequests  *prometheus.GaugeVec
	HookRejections   *prometheus.CounterVec
	FrozenAccountsOp *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_issuance_operations_total",
			Help: "Issuance operations by name and outcome",
		}, []string{"op", "outcome"}),
		PendingRequests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_issuance_pending_requests",
			Help: "Mint and burn requests created by this process and not yet finalized",
		}, []string{"type"}),
		HookRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_issuance_hook_rejections_total",
			Help: "Token movements refused by the transfer hook",
		}, []string{"reason"}),
		FrozenAccountsOp: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_issuance_freeze_changes_total",
			Help: "Account freeze and unfreeze operations",
		}, []string{"op"}),
	}
}

func (m *Metrics) Observe(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) IncPending(kind string) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecPending(kind string) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(kind).Dec()
}

func (m *Metrics) IncHookRejection(reason string) {
	if m == nil {
		return
	}
	m.HookRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncFreezeChange(op string) {
	if m == nil {
		return
	}
	m.FrozenAccountsOp.WithLabelValues(op).Inc()
}
