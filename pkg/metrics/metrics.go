// Package metrics exposes the control plane's Prometheus instrumentation:
// monitoring-loop cycle counts, violation and escalation counters, and
// guardian verdict counts by risk level. One process-wide registry, the
// way the teacher's internal packages register counters against
// prometheus.DefaultRegisterer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts monitoring loop cycles run.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridguardian_monitor_cycles_total",
		Help: "Total monitoring loop cycles executed.",
	})

	// ViolationsTotal counts detected safety-rule violations by zone.
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridguardian_violations_total",
		Help: "Total safety-rule violations detected, by zone.",
	}, []string{"zone"})

	// EscalationsTotal counts zone escalations handed to the strategic agent.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridguardian_escalations_total",
		Help: "Total zone escalations routed to the strategic agent, by zone.",
	}, []string{"zone"})

	// GuardianVerdictsTotal counts guardian validations by risk level.
	GuardianVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridguardian_guardian_verdicts_total",
		Help: "Total guardian command validations, by risk level.",
	}, []string{"risk_level"})

	// ToolInvocationsTotal counts tool-catalog dispatches by outcome.
	ToolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridguardian_tool_invocations_total",
		Help: "Total tool catalog invocations, by outcome (ok/error).",
	}, []string{"outcome"})

	// RegisteredEndpoints tracks the live endpoint count by status.
	RegisteredEndpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridguardian_registered_endpoints",
		Help: "Currently registered endpoints, by status.",
	}, []string{"status"})
)
