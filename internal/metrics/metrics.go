// Package metrics holds the prometheus collectors of the service. Every
// component receives a *Metrics; a nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formflow"

type Metrics struct {
	reg *prometheus.Registry

	broadcasts     *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	connections    *prometheus.GaugeVec
	submissions    *prometheus.CounterVec
	submitDuration prometheus.Histogram
	clears         *prometheus.CounterVec
	progressWrites prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast messages by type and outcome (delivered, no_subscribers, duplicate).",
		}, []string{"type", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Messages dropped for a single connection because its buffer was full.",
		}, []string{"transport"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Currently registered realtime connections.",
		}, []string{"transport"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts by form type and result.",
		}, []string{"form_type", "result"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Wall time of a submission from validation to commit.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clear_fields_total",
			Help:      "Clear-fields operations by result (cleared, duplicate, rejected).",
		}, []string{"result"}),
		progressWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_updates_total",
			Help:      "Committed task progress recomputations.",
		}),
	}
	reg.MustRegister(m.broadcasts, m.dropped, m.connections, m.submissions,
		m.submitDuration, m.clears, m.progressWrites)
	return m
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Broadcast(msgType, outcome string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) Dropped(transport string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

func (m *Metrics) Submission(formType, result string, seconds float64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(formType, result).Inc()
	if result == "success" {
		m.submitDuration.Observe(seconds)
	}
}

func (m *Metrics) Clear(result string) {
	if m == nil {
		return
	}
	m.clears.WithLabelValues(result).Inc()
}

func (m *Metrics) ProgressUpdated() {
	if m == nil {
		return
	}
	m.progressWrites.Inc()
}
