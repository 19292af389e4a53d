// Package metrics holds the Prometheus collectors for the chat engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	messagesSent      prometheus.Counter
	dispatchDelivered *prometheus.CounterVec
	dispatchFailed    *prometheus.CounterVec
	dispatchDropped   prometheus.Counter
	presenceEvictions prometheus.Counter
	onlineUsers       prometheus.Gauge
	activeTyping      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages persisted by the chat orchestrator.",
		}),
		dispatchDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_dispatch_delivered_total",
			Help: "Frames handed to live sessions, by event.",
		}, []string{"event"}),
		dispatchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_dispatch_failed_total",
			Help: "Frames that could not be handed to a session, by event.",
		}, []string{"event"}),
		dispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_dispatch_dropped_total",
			Help: "Dispatch intents dropped because the queue was full.",
		}),
		presenceEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_presence_evictions_total",
			Help: "Presence entries evicted by the liveness sweep.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Users with at least one live session on this instance.",
		}),
		activeTyping: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_typing_signals",
			Help: "Typing signals currently active.",
		}),
	}
	reg.MustRegister(
		m.messagesSent,
		m.dispatchDelivered,
		m.dispatchFailed,
		m.dispatchDropped,
		m.presenceEvictions,
		m.onlineUsers,
		m.activeTyping,
	)
	return m
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) Delivered(event string) {
	if m != nil {
		m.dispatchDelivered.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) DeliveryFailed(event string) {
	if m != nil {
		m.dispatchFailed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dispatchDropped.Inc()
	}
}

func (m *Metrics) Evicted() {
	if m != nil {
		m.presenceEvictions.Inc()
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) SetTyping(n int) {
	if m != nil {
		m.activeTyping.Set(float64(n))
	}
}
