package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepRuns        = expvar.NewInt("coordinator_sweep_runs")
	EmergencyClears  = expvar.NewInt("coordinator_emergency_clears")
	StoreErrors      = expvar.NewInt("intent_store_errors")
	RecoveredPanics  = expvar.NewInt("recovered_panics")
	IntentsRecovered = expvar.NewInt("intents_recovered_on_start")
)

var (
	// coordinator
	CoordinationChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_coordination_checks_total",
			Help: "Conflict checks by outcome (approved|duplicate|rate_limited|symbol_crowded|unavailable)",
		},
		[]string{"outcome"},
	)

	IntentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_intent_transitions_total",
			Help: "Intent status transitions by target status",
		},
		[]string{"status"},
	)

	PendingIntents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordercore_pending_intents",
			Help: "Current number of PENDING intents",
		},
	)

	// ordertype
	OrderTypeDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_order_type_decisions_total",
			Help: "Order type decisions by winning type",
		},
		[]string{"order_type"},
	)

	PerspectiveFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_perspective_failures_total",
			Help: "Perspective evaluations that failed and abstained",
		},
		[]string{"perspective"},
	)

	// ordermanager
	OrderDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_order_decisions_total",
			Help: "Order manager results by outcome (approved or veto kind)",
		},
		[]string{"outcome"},
	)

	// awareness
	GateEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordercore_gate_evaluations_total",
			Help: "Awareness gate evaluations by gate and result",
		},
		[]string{"gate", "result"},
	)
)

func init() {
	prometheus.MustRegister(CoordinationChecks, IntentTransitions, PendingIntents)
	prometheus.MustRegister(OrderTypeDecisions, PerspectiveFailures)
	prometheus.MustRegister(OrderDecisions)
	prometheus.MustRegister(GateEvaluations)
}

// ObserveGate 记录一次 gate 评估
func ObserveGate(gate string, allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	GateEvaluations.WithLabelValues(gate, result).Inc()
}
