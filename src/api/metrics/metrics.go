// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	VerificationChecks *prometheus.CounterVec
	LockTransitions    *prometheus.CounterVec
	LedgerFailures     *prometheus.CounterVec
	Votes              prometheus.Counter
	ProposalsResolved  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerificationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stakegate_verification_checks_total",
			Help: "Wallet verification checks by outcome.",
		}, []string{"result"}),
		LockTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stakegate_lock_transitions_total",
			Help: "Lock status transitions by target status.",
		}, []string{"to"}),
		LedgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stakegate_ledger_failures_total",
			Help: "Ledger gateway calls that failed or timed out, by operation.",
		}, []string{"op"}),
		Votes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stakegate_votes_total",
			Help: "Votes cast.",
		}),
		ProposalsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stakegate_proposals_resolved_total",
			Help: "Proposals resolved by final status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.VerificationChecks, m.LockTransitions, m.LedgerFailures, m.Votes, m.ProposalsResolved)
	}
	return m
}

// OrNew lets engines accept nil and still count into private collectors.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New(nil)
	}
	return m
}
