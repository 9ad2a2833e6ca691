package devbackend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type serverMetrics struct {
	requests       *prometheus.CounterVec
	logins         *prometheus.CounterVec
	prompts        prometheus.Counter
	fragments      prometheus.Counter
	hubConnections prometheus.Gauge
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstats",
			Subsystem: "devbackend",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstats",
			Subsystem: "devbackend",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		prompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finstats",
			Subsystem: "devbackend",
			Name:      "chat_prompts_total",
			Help:      "Prompts accepted by the chat endpoint.",
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finstats",
			Subsystem: "devbackend",
			Name:      "hub_fragments_total",
			Help:      "Reply fragments pushed to hub clients.",
		}),
		hubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finstats",
			Subsystem: "devbackend",
			Name:      "hub_connections",
			Help:      "Open hub connections.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.logins,
		m.prompts,
		m.fragments,
		m.hubConnections,
		collectors.NewGoCollector(),
	)
	return m
}
