package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the custody state machine.
type Metrics struct {
	Operations       *prometheus.CounterVec
	PendingUnstakes  prometheus.Gauge
	TransferFailures *prometheus.CounterVec
	StakedVolume     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_ledger_operations_total",
			Help: "Custody operations by name and outcome",
		}, []string{"op", "outcome"}),
		PendingUnstakes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "custody_ledger_pending_unstakes",
			Help: "Unstake requests created by this process and not yet finalized",
		}),
		TransferFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_ledger_transfer_failures_total",
			Help: "Token transfers refused during custody operations",
		}, []string{"op"}),
		StakedVolume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_ledger_staked_volume_total",
			Help: "Base units staked per asset; precision is lost above 2^53",
		}, []string{"asset"}),
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

func (m *Metrics) IncPending() {
	if m == nil {
		return
	}
	m.PendingUnstakes.Inc()
}

func (m *Metrics) DecPending() {
	if m == nil {
		return
	}
	m.PendingUnstakes.Dec()
}

func (m *Metrics) IncTransferFailure(op string) {
	if m == nil {
		return
	}
	m.TransferFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) AddStaked(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.StakedVolume.WithLabelValues(asset).Add(f)
}
