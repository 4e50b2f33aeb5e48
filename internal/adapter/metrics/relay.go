package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics counts what the message relay does with inbound frames.
type RelayMetrics struct {
	MessagesBroadcast prometheus.Counter
	FramesQueued      prometheus.Counter
	PingsAnswered     prometheus.Counter
	MalformedDropped  prometheus.Counter
	SendFailures      prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		MessagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "messages_broadcast_total",
			Help:      "Chat messages fanned out to all connections.",
		}),
		FramesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_queued_total",
			Help:      "Outbound frames queued on connections, including replies and greetings.",
		}),
		PingsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "pings_answered_total",
			Help:      "Liveness probes answered with pong.",
		}),
		MalformedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "malformed_frames_dropped_total",
			Help:      "Inbound frames dropped because they were not chat messages.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Sends skipped because the connection was no longer open.",
		}),
	}

	reg.MustRegister(m.MessagesBroadcast, m.FramesQueued, m.PingsAnswered, m.MalformedDropped, m.SendFailures)
	return m
}
