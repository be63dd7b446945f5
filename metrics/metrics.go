package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crew_gatekeeper"

var (
	// Submissions counts application submissions by result
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Recruitment submissions by result.",
	}, []string{"result"})

	// Decisions counts staff decisions by decision and whether they were applied
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Staff decisions on submissions.",
	}, []string{"decision", "applied"})

	// GateChecks counts quiz gate checks by result
	GateChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_checks_total",
		Help:      "Gate checks on the quiz page.",
	}, []string{"result"})

	// RealtimeClients is the number of connected realtime clients
	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_clients",
		Help:      "Connected SSE and websocket clients.",
	})
)
