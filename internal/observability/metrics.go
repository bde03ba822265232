package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for txsim_transactions_total.
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeReplayed  = "replayed"
)

// TxMetrics holds the Prometheus collectors for processed transactions.
// A nil *TxMetrics is valid and records nothing.
type TxMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTxMetrics builds the collectors and registers them on reg when reg is
// non-nil. Registration panics on duplicate names, same as MustRegister.
func NewTxMetrics(reg prometheus.Registerer) *TxMetrics {
	m := &TxMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txsim_transactions_total",
				Help: "Transactions submitted, by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txsim_transaction_duration_seconds",
				Help:    "Time spent processing a submitted transaction.",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"action"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.total, m.duration)
	}
	return m
}

// Observe records one processed transaction.
func (m *TxMetrics) Observe(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.total.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(d.Seconds())
}
