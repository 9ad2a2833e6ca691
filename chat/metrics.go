package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Finalisation causes.
const (
	causeIdle     = "idle"
	causeComplete = "complete"
	causeTeardown = "teardown"
)

// Metrics counts channel activity. A nil *Metrics records nothing.
type Metrics struct {
	connects          prometheus.Counter
	reconnectAttempts prometheus.Counter
	fragments         prometheus.Counter
	sends             *prometheus.CounterVec
	finalisations     *prometheus.CounterVec
	state             prometheus.Gauge
}

// NewMetrics creates the channel collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finstats_chat_connects_total",
			Help: "Total number of established realtime connections",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finstats_chat_reconnect_attempts_total",
			Help: "Total number of connection retries after a failure",
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finstats_chat_fragments_total",
			Help: "Total number of assistant reply fragments received",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finstats_chat_sends_total",
			Help: "Total number of prompts submitted, by result",
		}, []string{"result"}),
		finalisations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finstats_chat_replies_finalised_total",
			Help: "Total number of assistant replies finalised, by cause",
		}, []string{"cause"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finstats_chat_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connects, m.reconnectAttempts, m.fragments, m.sends, m.finalisations, m.state)
	}
	return m
}

func (m *Metrics) connected() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) fragment() {
	if m != nil {
		m.fragments.Inc()
	}
}

func (m *Metrics) sent(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) finalised(cause string) {
	if m != nil {
		m.finalisations.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
