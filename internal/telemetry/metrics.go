package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts relay activity. A nil *Metrics is valid and records nothing,
// which keeps tests and metric-less deployments free of registry plumbing.
type Metrics struct {
	Connections    prometheus.Gauge
	Reviewers      prometheus.Gauge
	FramesReceived prometheus.Counter
	FramesRelayed  prometheus.Counter
	DecodeErrors   prometheus.Counter
	SendErrors     prometheus.Counter
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "platform_sync",
			Name:      "connections",
			Help:      "Open websocket connections, identified or not.",
		}),
		Reviewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "platform_sync",
			Name:      "reviewers",
			Help:      "Entries in the reviewer session table.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "platform_sync",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from clients.",
		}),
		FramesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "platform_sync",
			Name:      "frames_relayed_total",
			Help:      "Frames queued to peers by broadcasts.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "platform_sync",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they did not decode.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "platform_sync",
			Name:      "send_errors_total",
			Help:      "Broadcast targets skipped because they could not accept a frame.",
		}),
	}
	reg.MustRegister(m.Connections, m.Reviewers, m.FramesReceived, m.FramesRelayed, m.DecodeErrors, m.SendErrors)
	return m
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.Connections.Set(float64(n))
	}
}

func (m *Metrics) SetReviewers(n int) {
	if m != nil {
		m.Reviewers.Set(float64(n))
	}
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) FrameRelayed() {
	if m != nil {
		m.FramesRelayed.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}
