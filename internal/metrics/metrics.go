// Package metrics exposes prometheus instrumentation for the realtime hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the realtime channel. Each instance owns
// its own registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	sessionsConnected  prometheus.Gauge
	messagesBroadcast  prometheus.Counter
	messagesDelivered  prometheus.Counter
	messagesDropped    prometheus.Counter
	sessionsEvicted    prometheus.Counter
	admissionsRejected prometheus.Counter
}

// New creates a Metrics instance with all collectors registered under the
// given namespace.
func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: r,
		sessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions_connected",
			Help:      "Number of live sessions in the hub registry.",
		}),
		messagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_broadcast_total",
			Help:      "Messages accepted by the hub for fan-out.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_delivered_total",
			Help:      "Per-session deliveries enqueued by the hub.",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Messages dropped because a session's outbound queue was full.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_sessions_evicted_total",
			Help:      "Sessions removed by the liveness sweep.",
		}),
		admissionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_admissions_rejected_total",
			Help:      "Upgrade requests rejected before a session was created.",
		}),
	}

	r.MustRegister(
		m.sessionsConnected,
		m.messagesBroadcast,
		m.messagesDelivered,
		m.messagesDropped,
		m.sessionsEvicted,
		m.admissionsRejected,
	)

	return m
}

// SessionRegistered increments the connected-sessions gauge.
func (m *Metrics) SessionRegistered() { m.sessionsConnected.Inc() }

// SessionUnregistered decrements the connected-sessions gauge.
func (m *Metrics) SessionUnregistered() { m.sessionsConnected.Dec() }

// MessageBroadcast counts a message accepted for fan-out.
func (m *Metrics) MessageBroadcast() { m.messagesBroadcast.Inc() }

// MessageDelivered counts a successful per-session enqueue.
func (m *Metrics) MessageDelivered() { m.messagesDelivered.Inc() }

// MessageDropped counts a drop-newest backpressure event.
func (m *Metrics) MessageDropped() { m.messagesDropped.Inc() }

// SessionEvicted counts a liveness eviction.
func (m *Metrics) SessionEvicted() { m.sessionsEvicted.Inc() }

// AdmissionRejected counts a rejected upgrade request.
func (m *Metrics) AdmissionRejected() { m.admissionsRejected.Inc() }

// Handler returns an HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
