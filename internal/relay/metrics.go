package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on echo_relay_dropped_total.
const (
	dropMalformed     = "malformed"
	dropUnknownType   = "unknown_type"
	dropUnknownTarget = "unknown_target"
	dropNotInRoom     = "not_in_room"
	dropBackpressure  = "backpressure"
)

// Metrics holds the relay's prometheus collectors.
type Metrics struct {
	rooms       prometheus.Gauge
	members     prometheus.Gauge
	connections prometheus.Gauge
	relayed     *prometheus.CounterVec
	drops       *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "echo_rooms",
			Help: "Number of rooms with at least one member.",
		}),
		members: f.NewGauge(prometheus.GaugeOpts{
			Name: "echo_members",
			Help: "Number of clients that have joined a room.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "echo_connections",
			Help: "Number of open signaling connections.",
		}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_relay_messages_total",
			Help: "Messages delivered by the relay, by type.",
		}, []string{"type"}),
		drops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_relay_dropped_total",
			Help: "Messages dropped by the relay, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) delivered(msgType string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) observe(r *Registry, connections int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(r.Rooms()))
	m.members.Set(float64(r.Members()))
	m.connections.Set(float64(connections))
}
