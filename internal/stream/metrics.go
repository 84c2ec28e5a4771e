package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is 1 while the feed connection is up.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_stream_active_connections",
		Help: "Number of active WebSocket connections",
	})

	// StreamState exposes the lifecycle state as an enum gauge.
	StreamState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_stream_state",
		Help: "Streamer lifecycle state (0=disconnected 1=connecting 2=connected 3=degraded 4=closed)",
	})

	// SubscriptionCount tracks how many tokens are subscribed.
	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polystrat_stream_subscriptions",
		Help: "Number of token subscriptions on the feed",
	})

	// MessagesReceivedTotal counts feed events by type.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_stream_messages_received_total",
			Help: "Feed events received by event type",
		},
		[]string{"event_type"},
	)

	// MessagesDroppedTotal counts updates dropped by reason.
	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polystrat_stream_messages_dropped_total",
			Help: "Updates dropped before dispatch by reason",
		},
		[]string{"reason"},
	)

	// ReconnectAttemptsTotal counts reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_stream_reconnect_attempts_total",
		Help: "Total reconnection attempts",
	})

	// ReconnectFailuresTotal counts failed reconnection attempts.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_stream_reconnect_failures_total",
		Help: "Total failed reconnection attempts",
	})

	// WatchdogTripsTotal counts silence watchdog activations.
	WatchdogTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polystrat_stream_watchdog_trips_total",
		Help: "Times the silence watchdog forced a reconnect",
	})
)
