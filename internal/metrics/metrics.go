// Package metrics exposes Prometheus metrics for the task workflow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for taskrelay.
//
// All metrics are prefixed with "taskrelay_":
//   - taskrelay_transitions_total{op,result} - lifecycle operations by outcome
//   - taskrelay_notifications_total{kind,result} - notifications sent or failed
//   - taskrelay_sweeps_total{result} - completed sweeps
//   - taskrelay_sweep_duration_seconds - sweep wall time
//   - taskrelay_sweep_tasks{outcome} - tasks per outcome in the last sweep
//   - taskrelay_overdue_accruals_total - overdue score increments
//   - taskrelay_identity_resolutions_total{outcome} - resolver results
//   - taskrelay_coordinator_wait_seconds{result} - lock acquisition wait
//   - taskrelay_coordinator_in_flight - guarded sections running now
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	SweepsTotal          *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	SweepTasks           *prometheus.GaugeVec
	OverdueAccrualsTotal prometheus.Counter

	IdentityResolutions *prometheus.CounterVec

	CoordinatorWait     *prometheus.HistogramVec
	CoordinatorInFlight prometheus.Gauge
}

// New registers the collectors with reg. Use a fresh prometheus.Registry
// per test to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_transitions_total",
				Help: "Lifecycle operations by operation and result",
			},
			[]string{"op", "result"}, // result: ok, already_handled, invalid, error
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_notifications_total",
				Help: "Notifications by kind and delivery result",
			},
			[]string{"kind", "result"},
		),
		SweepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_sweeps_total",
				Help: "Reminder sweeps by result",
			},
			[]string{"result"},
		),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskrelay_sweep_duration_seconds",
			Help:    "Reminder sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		SweepTasks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskrelay_sweep_tasks",
				Help: "Tasks per outcome in the most recent sweep",
			},
			[]string{"outcome"}, // checked, notified, accrued, failed
		),
		OverdueAccrualsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "taskrelay_overdue_accruals_total",
			Help: "Overdue score increments",
		}),
		IdentityResolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_identity_resolutions_total",
				Help: "Identity resolutions by matching stage or miss",
			},
			[]string{"outcome"},
		),
		CoordinatorWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskrelay_coordinator_wait_seconds",
				Help:    "Time spent waiting for a task lock and slot",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"result"}, // acquired, timeout
		),
		CoordinatorInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskrelay_coordinator_in_flight",
			Help: "Guarded sections currently running",
		}),
	}
}

// ObserveWait implements coordinator.Observer.
func (m *Metrics) ObserveWait(d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	result := "acquired"
	if timedOut {
		result = "timeout"
	}
	m.CoordinatorWait.WithLabelValues(result).Observe(d.Seconds())
}

// SetInFlight implements coordinator.Observer.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.CoordinatorInFlight.Set(float64(n))
}

// Transition counts a lifecycle operation.
func (m *Metrics) Transition(op, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(op, result).Inc()
}

// Notification counts a notification attempt.
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// IdentityOutcome counts a resolver result.
func (m *Metrics) IdentityOutcome(outcome string) {
	if m == nil {
		return
	}
	m.IdentityResolutions.WithLabelValues(outcome).Inc()
}

// Sweep records a finished sweep.
func (m *Metrics) Sweep(d time.Duration, checked, notified, accrued, failed int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SweepsTotal.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(d.Seconds())
	m.SweepTasks.WithLabelValues("checked").Set(float64(checked))
	m.SweepTasks.WithLabelValues("notified").Set(float64(notified))
	m.SweepTasks.WithLabelValues("accrued").Set(float64(accrued))
	m.SweepTasks.WithLabelValues("failed").Set(float64(failed))
	m.OverdueAccrualsTotal.Add(float64(accrued))
}
