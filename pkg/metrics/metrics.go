package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "torrent_sync"

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registry *prometheus.Registry

	messages *prometheus.CounterVec
	units    *prometheus.CounterVec
	grants   *prometheus.CounterVec
	revokes  *prometheus.CounterVec
	inflight prometheus.Gauge
	duration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Bus messages received, by topic and handling result.",
		}, []string{"topic", "result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Finished orchestration units, by terminal state.",
		}, []string{"state"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Key authorization attempts, by result.",
		}, []string{"result"}),
		revokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revokes_total",
			Help:      "Key revocation attempts, by result.",
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_inflight",
			Help:      "Orchestration units currently running.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of transfer commands.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
	reg.MustRegister(
		m.messages, m.units, m.grants, m.revokes, m.inflight, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) Message(topic, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(topic, result).Inc()
}

func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) UnitFinished(state string) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.units.WithLabelValues(state).Inc()
}

func (m *Metrics) Grant(err error) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Revoke(err error) {
	if m == nil {
		return
	}
	m.revokes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Transfer(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
