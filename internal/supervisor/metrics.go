package supervisor

import (
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report supervisor activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	restartsTotal     *prometheus.CounterVec
	agents            *prometheus.GaugeVec
	blackboardEntries prometheus.Gauge
}

// MustNewMetrics constructs and registers the supervisor collectors.
// Registration errors panic, mirroring promauto; tests should pass a fresh
// prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warren",
				Subsystem: "supervisor",
				Name:      "agent_runs_total",
				Help:      "Agent runs by outcome.",
			},
			[]string{"agent", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "warren",
				Subsystem: "supervisor",
				Name:      "agent_run_duration_seconds",
				Help:      "Wall time of agent runs, including timeouts.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		restartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "warren",
				Subsystem: "supervisor",
				Name:      "agent_restarts_total",
				Help:      "Automatic agent restarts by reason.",
			},
			[]string{"agent", "reason"},
		),
		agents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warren",
				Subsystem: "supervisor",
				Name:      "agents",
				Help:      "Registered agents by status.",
			},
			[]string{"status"},
		),
		blackboardEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "warren",
				Subsystem: "blackboard",
				Name:      "entries",
				Help:      "Entries currently held by the blackboard, including expired ones awaiting cleanup.",
			},
		),
	}

	reg.MustRegister(m.runsTotal, m.runDuration, m.restartsTotal, m.agents, m.blackboardEntries)
	return m
}

// ObserveRun records one completed run.
func (m *Metrics) ObserveRun(agentName string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.runsTotal.WithLabelValues(agentName, outcome).Inc()
	m.runDuration.WithLabelValues(agentName).Observe(duration.Seconds())
}

// IncRestart records an automatic restart.
func (m *Metrics) IncRestart(agentName, reason string) {
	if m == nil {
		return
	}
	m.restartsTotal.WithLabelValues(agentName, reason).Inc()
}

// SetAgentStatuses replaces the per-status agent gauge.
func (m *Metrics) SetAgentStatuses(counts map[agent.Status]int) {
	if m == nil {
		return
	}
	m.agents.Reset()
	for status, n := range counts {
		m.agents.WithLabelValues(string(status)).Set(float64(n))
	}
}

// SetBlackboardEntries sets the blackboard size gauge.
func (m *Metrics) SetBlackboardEntries(n int) {
	if m == nil {
		return
	}
	m.blackboardEntries.Set(float64(n))
}
