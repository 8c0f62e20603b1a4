// Package metrics exposes scheduling and execution counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mailworker/internal/eventbus"
	"mailworker/internal/task/dispatch"
	"mailworker/internal/task/engine"
)

const Namespace = "mailworker"

type Metrics struct {
	triggerFires  *prometheus.CounterVec
	misfires      *prometheus.CounterVec
	retired       *prometheus.CounterVec
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDelay    prometheus.Histogram
	tasksSkipped  *prometheus.CounterVec
	configReloads prometheus.Counter
}

// New registers the collectors on reg (prometheus.DefaultRegisterer when nil).
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		triggerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_fires_total",
				Help:      "Trigger fires handed to the task engine",
			},
			[]string{"job"},
		),
		misfires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_missed_fires_total",
				Help:      "Fire instants skipped by the misfire policy",
			},
			[]string{"job"},
		),
		retired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trigger_retired_total",
				Help:      "Triggers removed or exhausted",
			},
			[]string{"job"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Finished executions by status",
			},
			[]string{"job", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Execution duration",
				Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"job", "status"},
		),
		queueDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_queue_delay_seconds",
				Help:      "Time between enqueue and start",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		tasksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_skipped_total",
				Help:      "Executions not started (overlap or full queue)",
			},
			[]string{"job", "reason"},
		),
		configReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads applied",
			},
		),
	}

	reg.MustRegister(
		m.triggerFires,
		m.misfires,
		m.retired,
		m.tasksTotal,
		m.taskDuration,
		m.queueDelay,
		m.tasksSkipped,
		m.configReloads,
	)
	return m
}

// RegisterEngine exposes live queue gauges read from snap on every scrape.
func RegisterEngine(namespace string, reg prometheus.Registerer, snap func() engine.Snapshot) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_length",
			Help:      "Executions waiting for a worker",
		}, func() float64 { return float64(snap().QueueLen) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Executions currently running",
		}, func() float64 { return float64(snap().InFlight) }),
	)
}

// Observe updates the collectors from one bus event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case dispatch.TriggerEvent:
		switch e.Type {
		case eventbus.TriggerFired:
			m.triggerFires.WithLabelValues(d.JobName).Inc()
		case eventbus.TriggerMisfired:
			m.misfires.WithLabelValues(d.JobName).Add(float64(d.Missed))
		case eventbus.TriggerRetired:
			m.retired.WithLabelValues(d.JobName).Inc()
		}
	case engine.TaskEvent:
		switch e.Type {
		case eventbus.TaskStarted:
			m.queueDelay.Observe(d.QueueDelay.Seconds())
		case eventbus.TaskFinished:
			m.RecordTask(d.Name, "ok", d.Duration.Seconds())
		case eventbus.TaskFailed:
			status := "error"
			if d.Panicked {
				status = "panic"
			}
			m.RecordTask(d.Name, status, d.Duration.Seconds())
		case eventbus.TaskSkipped:
			m.tasksSkipped.WithLabelValues(d.Name, d.Error).Inc()
		}
	default:
		if e.Type == eventbus.ConfigReloaded {
			m.configReloads.Inc()
		}
	}
}

func (m *Metrics) RecordTask(job, status string, seconds float64) {
	m.tasksTotal.WithLabelValues(job, status).Inc()
	m.taskDuration.WithLabelValues(job, status).Observe(seconds)
}
