package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
// A nil *Metrics is valid and turns every observation into a no-op, so tests
// and dev wiring can skip registration entirely.
type Metrics struct {
	connectionsOpen  prometheus.Gauge
	eventsTotal      *prometheus.CounterVec
	messagesStored   prometheus.Counter
	broadcastDropped prometheus.Counter
}

// NewMetrics builds and registers the realtime collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "whatsroom",
			Subsystem: "ws",
			Name:      "connections_open",
			Help:      "Currently open websocket connections.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsroom",
			Subsystem: "ws",
			Name:      "events_total",
			Help:      "Inbound realtime events by type.",
		}, []string{"type"}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whatsroom",
			Subsystem: "store",
			Name:      "messages_stored_total",
			Help:      "Messages persisted (duplicates excluded).",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whatsroom",
			Subsystem: "ws",
			Name:      "broadcast_dropped_total",
			Help:      "Broadcast envelopes dropped due to slow receivers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.connectionsOpen, m.eventsTotal, m.messagesStored, m.broadcastDropped)
	}
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connectionsOpen.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connectionsOpen.Dec()
	}
}

func (m *Metrics) event(typ string) {
	if m != nil {
		m.eventsTotal.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) messageStored() {
	if m != nil {
		m.messagesStored.Inc()
	}
}

func (m *Metrics) droppedBroadcasts(n int) {
	if m != nil && n > 0 {
		m.broadcastDropped.Add(float64(n))
	}
}
