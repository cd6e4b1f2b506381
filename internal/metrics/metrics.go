// Package metrics exposes counters for ledger and sweep activity.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	sweepRuns      prometheus.Counter
	transitions    *prometheus.CounterVec
	stateConflicts prometheus.Counter
	notifications  *prometheus.CounterVec
	remindersPlanned prometheus.Counter
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics registered on the default
// prometheus registerer.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates metrics registered on the given registerer. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dosetrack_sweep_runs_total",
			Help: "Number of overdue sweep executions.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dosetrack_dose_transitions_total",
			Help: "Dose status transitions by resulting status.",
		}, []string{"status"}),
		stateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dosetrack_state_conflicts_total",
			Help: "Transitions rejected because the record was already terminal.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dosetrack_notifications_total",
			Help: "Escalation notifications dispatched, by result.",
		}, []string{"result"}),
		remindersPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dosetrack_reminders_planned_total",
			Help: "Reminder payloads produced by the planner.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.sweepRuns, m.transitions, m.stateConflicts, m.notifications, m.remindersPlanned)
	}

	return m
}

func (m *Metrics) RecordSweepRun() {
	m.sweepRuns.Inc()
}

func (m *Metrics) RecordTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStateConflict() {
	m.stateConflicts.Inc()
}

func (m *Metrics) RecordNotification(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReminderPlanned() {
	m.remindersPlanned.Inc()
}
