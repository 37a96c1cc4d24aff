package collab

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the transport's instrumentation. All collectors are created
// unconditionally; pass a nil Registerer to keep them unregistered (tests,
// short-lived CLIs).
type Metrics struct {
	DialAttempts  prometheus.Counter
	Reconnects    prometheus.Counter
	AuthFailures  prometheus.Counter
	FramesIn      *prometheus.CounterVec
	DroppedSends  prometheus.Counter
	ConnectedFlag prometheus.Gauge
}

// NewMetrics constructs transport metrics and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coedit_collab_dial_attempts_total",
			Help: "WebSocket dial attempts, including automatic reconnects.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coedit_collab_reconnects_scheduled_total",
			Help: "Automatic reconnects scheduled after a transient failure.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coedit_collab_auth_failures_total",
			Help: "Sessions terminated by the authentication-failure close code.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coedit_collab_frames_received_total",
			Help: "Inbound frames by wire type (malformed frames count as type \"malformed\").",
		}, []string{"type"}),
		DroppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coedit_collab_sends_dropped_total",
			Help: "Outbound frames dropped because the socket was not open.",
		}),
		ConnectedFlag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coedit_collab_connected",
			Help: "1 while the session socket is open, else 0.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DialAttempts, m.Reconnects, m.AuthFailures, m.FramesIn, m.DroppedSends, m.ConnectedFlag)
	}
	return m
}
