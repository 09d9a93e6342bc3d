package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics tracks gateway traffic, settlement checks and delivery outcomes.
type ReconciliationMetrics struct {
	settlementChecks *prometheus.CounterVec
	fulfillment      *prometheus.CounterVec
	gatewayRequests  *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation counters on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_checks_total",
		Help: "Settlement checks against the payment gateway by kind and normalized status.",
	}, []string{"kind", "status"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outcomes_total",
		Help: "Fulfillment attempts by outcome.",
	}, []string{"outcome"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Payment gateway HTTP calls by operation and result.",
	}, []string{"op", "result"})
	reg.MustRegister(checks, outcomes, requests)
	return &ReconciliationMetrics{
		settlementChecks: checks,
		fulfillment:      outcomes,
		gatewayRequests:  requests,
	}
}

// IncSettlementCheck counts one settlement lookup.
func (m *ReconciliationMetrics) IncSettlementCheck(kind, status string) {
	if m == nil || m.settlementChecks == nil {
		return
	}
	m.settlementChecks.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}

// IncFulfillment counts one fulfillment outcome.
func (m *ReconciliationMetrics) IncFulfillment(outcome string) {
	if m == nil || m.fulfillment == nil {
		return
	}
	m.fulfillment.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncGatewayRequest counts one gateway call.
func (m *ReconciliationMetrics) IncGatewayRequest(op, result string) {
	if m == nil || m.gatewayRequests == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}
