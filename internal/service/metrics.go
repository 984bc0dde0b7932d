package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pesio-ai/be-expense-approvals/internal/workflow"
)

// Metrics are the workflow counters. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	conflicts   prometheus.Counter
	chainLength prometheus.Histogram
}

// NewMetrics registers the workflow metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expense_submissions_total",
				Help:      "Expense submissions by result.",
			},
			[]string{"result"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expense_decisions_total",
				Help:      "Applied approval decisions by action and outcome reason.",
			},
			[]string{"action", "reason"},
		),
		conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expense_decision_conflicts_total",
				Help:      "Decisions rejected because the expense changed concurrently.",
			},
		),
		chainLength: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "expense_approval_chain_length",
				Help:      "Number of approvers resolved per submitted expense.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),
	}
	reg.MustRegister(m.submissions, m.decisions, m.conflicts, m.chainLength)
	return m
}

// Submission results.
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
	resultError    = "error"
)

func (m *Metrics) submission(result string, chainLen int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
	if result == resultAccepted {
		m.chainLength.Observe(float64(chainLen))
	}
}

func (m *Metrics) decision(action workflow.Action, reason workflow.Reason) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(action), string(reason)).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
