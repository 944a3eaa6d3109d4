// Package metrics defines the Prometheus collectors exported by the gateway.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session_gateway"

// Metrics groups the gateway collectors.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	TrackedSessions    prometheus.Gauge
	ConnectAttempts    prometheus.Counter
	Evictions          *prometheus.CounterVec
	Reconnects         *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	CredentialFailures *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	MessagesSent       *prometheus.CounterVec
}

// New registers the gateway collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Sessions currently in the Active state",
		}),
		TrackedSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tracked_sessions",
			Help: "Sessions currently held in the registry",
		}),
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_attempts_total",
			Help: "Connections opened to the protocol client",
		}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "evictions_total",
			Help: "Sessions torn down by the gateway, by cause",
		}, []string{"cause"}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Reconnect decisions, by disconnect reason class",
		}, []string{"class"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total",
			Help: "Session state transitions, by target state",
		}, []string{"state"}),
		CredentialFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "credential_failures_total",
			Help: "Credential store operations that failed, by operation",
		}, []string{"op"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Lifecycle events that could not be delivered, by sink",
		}, []string{"sink"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Outbound messages, by result",
		}, []string{"result"}),
	}
}

// SetSessions records the registry and active-session sizes.
func (m *Metrics) SetSessions(tracked, active int) {
	if m == nil {
		return
	}
	m.TrackedSessions.Set(float64(tracked))
	m.ActiveSessions.Set(float64(active))
}

// ConnectAttempt counts one opened connection.
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
}

// Eviction counts one eviction.
func (m *Metrics) Eviction(cause string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(cause).Inc()
}

// Reconnect counts one reconnect decision.
func (m *Metrics) Reconnect(class string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(class).Inc()
}

// Transition counts one state transition.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

// CredentialFailure counts one failed store operation.
func (m *Metrics) CredentialFailure(op string) {
	if m == nil {
		return
	}
	m.CredentialFailures.WithLabelValues(op).Inc()
}

// EventDropped counts one undelivered event.
func (m *Metrics) EventDropped(sink string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(sink).Inc()
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.MessagesSent.WithLabelValues(result).Inc()
}
