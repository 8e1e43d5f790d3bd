// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkeye/Airwave/internal/app/orch"
	"github.com/dkeye/Airwave/internal/core"
)

const namespace = "airwave"

// Source supplies the live values behind the gauges.
type Source interface {
	ConnectionCount() int
	BroadcasterCount() int
}

type Metrics struct {
	reg *prometheus.Registry

	MessagesHandled  *prometheus.CounterVec
	MessagesRejected prometheus.Counter
	FramesDropped    prometheus.Counter
	PeersKicked      prometheus.Counter
	BroadcastsEnded  *prometheus.CounterVec
}

var _ orch.Observer = (*Metrics)(nil)

// New registers every collector on a private registry, along with the Go
// runtime and process collectors.
func New(src Source) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		MessagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "messages_handled_total",
			Help:      "Inbound signaling messages dispatched, by type.",
		}, []string{"type"}),
		MessagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "messages_rejected_total",
			Help:      "Inbound frames dropped as malformed.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames a peer queue did not accept.",
		}),
		PeersKicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "peers_kicked_total",
			Help:      "Peers disconnected by the backpressure policy.",
		}),
		BroadcastsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "ended_total",
			Help:      "Broadcast sessions ended, by how.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.MessagesHandled,
		m.MessagesRejected,
		m.FramesDropped,
		m.PeersKicked,
		m.BroadcastsEnded,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "connections",
			Help:      "Live signaling connections.",
		}, func() float64 { return float64(src.ConnectionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "active",
			Help:      "Identities currently broadcasting.",
		}, func() float64 { return float64(src.BroadcasterCount()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) MessageHandled(kind core.Kind) { m.MessagesHandled.WithLabelValues(string(kind)).Inc() }
func (m *Metrics) MessageRejected()              { m.MessagesRejected.Inc() }
func (m *Metrics) FrameDropped()                 { m.FramesDropped.Inc() }
func (m *Metrics) PeerKicked()                   { m.PeersKicked.Inc() }

func (m *Metrics) BroadcastEnded(orphan bool) {
	reason := "stopped"
	if orphan {
		reason = "reaped"
	}
	m.BroadcastsEnded.WithLabelValues(reason).Inc()
}
