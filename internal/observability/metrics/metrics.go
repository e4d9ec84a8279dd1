// Package metrics holds the prometheus collectors for wikicron.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "wikicron"

type Metrics struct {
	reg *prometheus.Registry

	logins       *prometheus.CounterVec
	edits        *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	ticks        prometheus.Counter
	jobsFired    prometheus.Counter
	jobsPanicked prometheus.Counter
	jobsGauge    prometheus.Gauge
	sessions     prometheus.Gauge
}

// New builds collectors on a private registry (plus Go and process collectors).
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by target and result (success or an auth error kind).",
		}, []string{"target", "result"}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Page runs by target, trigger and result.",
		}, []string{"target", "trigger", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single page run including login.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler loop wakes.",
		}),
		jobsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs_fired_total",
			Help:      "Scheduled jobs that were due and triggered.",
		}),
		jobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_panics_total",
			Help:      "Scheduled jobs that panicked.",
		}),
		jobsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs",
			Help:      "Number of scheduled jobs currently loaded.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of cached authenticated sessions.",
		}),
	}
	m.reg.MustRegister(
		m.logins, m.edits, m.runDuration,
		m.ticks, m.jobsFired, m.jobsPanicked, m.jobsGauge, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is what the HTTP handler gathers from.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Login(target, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(target, result).Inc()
}

// Run records one finished page run.
func (m *Metrics) Run(target, trigger string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.edits.WithLabelValues(target, trigger, result).Inc()
	m.runDuration.WithLabelValues(target).Observe(seconds)
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) JobFired() {
	if m == nil {
		return
	}
	m.jobsFired.Inc()
}

func (m *Metrics) JobPanicked() {
	if m == nil {
		return
	}
	m.jobsPanicked.Inc()
}

func (m *Metrics) SetJobs(n int) {
	if m == nil {
		return
	}
	m.jobsGauge.Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
