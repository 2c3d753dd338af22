// Package metrics exposes Prometheus collectors for dispatch activity.
package metrics

import (
	"errors"

	"github.com/andrej220/capstan/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
)

// unknownTask replaces the task label of dispatches for unregistered keys so
// arbitrary request names cannot grow the label set.
const unknownTask = "unknown"

// Metrics implements task.Observer.
type Metrics struct {
	dispatches *prometheus.CounterVec
	hosts      *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ task.Observer = (*Metrics)(nil)

// MustNew registers the collectors with reg and panics on duplicate registration.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capstan",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatches by task and outcome.",
		}, []string{"task", "outcome"}),
		hosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capstan",
			Subsystem: "dispatch",
			Name:      "host_results_total",
			Help:      "Per-host command results by task and status.",
		}, []string{"task", "status"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capstan",
			Subsystem: "dispatch",
			Name:      "elevation_fallbacks_total",
			Help:      "Commands that ran unprivileged because elevation was unavailable.",
		}, []string{"task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "capstan",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent running a task body.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	reg.MustRegister(m.dispatches, m.hosts, m.fallbacks, m.duration)
	return m
}

func (m *Metrics) ObserveDispatch(key task.Key, report *task.Report, err error) {
	name := key.String()
	if errors.Is(err, task.ErrUnknownTask) {
		name = unknownTask
	}
	m.dispatches.WithLabelValues(name, outcome(report, err)).Inc()
	if report == nil {
		return
	}
	for _, r := range report.Results {
		m.hosts.WithLabelValues(name, string(r.Status)).Inc()
		if r.FallbackUsed {
			m.fallbacks.WithLabelValues(name).Inc()
		}
	}
	if !report.Skipped {
		m.duration.WithLabelValues(name).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}
}

func outcome(report *task.Report, err error) string {
	switch {
	case errors.Is(err, task.ErrUnknownTask):
		return "unknown_task"
	case errors.Is(err, task.ErrNoMatchingHosts):
		return "no_hosts"
	case errors.Is(err, task.ErrNoState):
		return "no_state"
	case errors.Is(err, task.ErrPredicate):
		return "predicate_error"
	case err != nil:
		return "body_failed"
	case report.Skipped:
		return "skipped"
	case !report.OK():
		return "partial"
	default:
		return "ok"
	}
}
