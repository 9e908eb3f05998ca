package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Push outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeGone      = "gone"
	OutcomeFailed    = "failed"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendchat_ws_connections_active",
			Help: "Websocket connections currently held by this node",
		},
	)

	InboundFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_inbound_frames_total",
			Help: "Inbound websocket frames by kind",
		},
		[]string{"kind"},
	)

	Pushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_pushes_total",
			Help: "Push attempts by frame type and outcome",
		},
		[]string{"frame", "outcome"},
	)

	ConnectionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "friendchat_connections_reaped_total",
			Help: "Registry rows deleted after a push found the connection gone",
		},
	)

	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_change_events_total",
			Help: "Change records received by source table and kind",
		},
		[]string{"table", "kind"},
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendchat_message_status_updates_total",
			Help: "Message status transitions by result (updated, skipped)",
		},
		[]string{"result"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "friendchat_handler_duration_seconds",
			Help:    "Handler invocation latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler"},
	)
)
