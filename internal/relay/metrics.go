package relay

import (
	"net/http"

	"github.com/amaydixit11/mealsync/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors on a private registry so several
// servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	dropped     prometheus.Counter
	evicted     prometheus.Counter
	storedBytes prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mealsync_relay_connections",
				Help: "Number of open client connections",
			},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealsync_relay_messages_total",
				Help: "Number of frames handled, by type",
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mealsync_relay_dropped_frames_total",
				Help: "Number of malformed frames dropped",
			},
		),
		evicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mealsync_relay_evicted_clients_total",
				Help: "Number of clients disconnected for a full send buffer",
			},
		),
		storedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mealsync_relay_stored_bytes_total",
				Help: "Number of blob bytes written to the store",
			},
		),
	}
	m.registry.MustRegister(m.connections, m.messages, m.dropped, m.evicted, m.storedBytes)
	return m
}

func (m *Metrics) message(t protocol.MessageType) {
	m.messages.WithLabelValues(string(t)).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
