package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nickyhof/GlobalDB/conn"
)

// metrics holds the server's collectors. A nil *metrics records nothing.
type metrics struct {
	registry   *prometheus.Registry
	primitives *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	tasks      *prometheus.CounterVec
	clients    prometheus.Gauge
}

func newMetrics(pending func() int) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		primitives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "globaldb",
			Name:      "primitive_calls_total",
			Help:      "Connection primitive calls by outcome.",
		}, []string{"primitive", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "globaldb",
			Name:      "primitive_latency_microseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 5000, 25000, 100000, 1000000},
		}, []string{"primitive"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "globaldb",
			Name:      "tasks_total",
			Help:      "Asynchronous tasks by submission outcome.",
		}, []string{"primitive", "outcome"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "globaldb",
			Name:      "clients",
			Help:      "Connected clients.",
		}),
	}
	m.registry.MustRegister(m.primitives, m.latency, m.tasks, m.clients,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "globaldb",
			Name:      "tasks_pending",
			Help:      "Queued tasks not yet picked up by a worker.",
		}, func() float64 { return float64(pending()) }))
	return m
}

func (m *metrics) listener() conn.EventListener {
	return &conn.SelectiveListener{
		OnPrimitiveCb: func(primitive string, took time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.primitives.WithLabelValues(primitive, outcome).Inc()
			m.latency.WithLabelValues(primitive).Observe(float64(took.Microseconds()))
		},
		OnTaskCb: func(primitive string, queued bool) {
			outcome := "queued"
			if !queued {
				outcome = "rejected"
			}
			m.tasks.WithLabelValues(primitive, outcome).Inc()
		},
	}
}

func (m *metrics) clientConnected() {
	if m != nil {
		m.clients.Inc()
	}
}

func (m *metrics) clientDisconnected() {
	if m != nil {
		m.clients.Dec()
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
