// Package metrics exposes Prometheus counters for the chat pipeline and scheduler.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	inbound     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	escalations *prometheus.CounterVec
	digests     *prometheus.CounterVec
	sends       *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
	wakeQueue   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubflo_inbound_messages_total",
				Help: "Inbound chat messages by classified tag.",
			},
			[]string{"tag"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubflo_task_transitions_total",
				Help: "Committed task mutations by audit action.",
			},
			[]string{"action"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubflo_escalations_total",
				Help: "Escalation nudges sent by bucket.",
			},
			[]string{"bucket"},
		),
		digests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubflo_digests_total",
				Help: "Digests sent by recipient role.",
			},
			[]string{"role"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubflo_outbound_sends_total",
				Help: "Outbound chat sends by result.",
			},
			[]string{"result"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hubflo_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		wakeQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hubflo_scheduler_wake_queue",
			Help: "Pending entries in the escalation wake queue.",
		}),
	}
	reg.MustRegister(m.inbound, m.transitions, m.escalations, m.digests, m.sends, m.httpLatency, m.wakeQueue)
	return m
}

func (m *Metrics) Inbound(tag string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(tag).Inc()
}

func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) Escalation(bucket string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(bucket).Inc()
}

func (m *Metrics) Digest(role string) {
	if m == nil {
		return
	}
	m.digests.WithLabelValues(role).Inc()
}

func (m *Metrics) Send(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(route, status).Observe(seconds)
}

func (m *Metrics) WakeQueue(n int) {
	if m == nil {
		return
	}
	m.wakeQueue.Set(float64(n))
}
