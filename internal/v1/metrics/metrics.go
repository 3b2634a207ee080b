package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: orc (application-level grouping)
// - subsystem: websocket, stream, http (feature-level grouping)
//
// Metric Types:
// - Gauge: current state (sessions, rooms)
// - Counter: cumulative events (messages posted, frames dropped)
// - Histogram: latency distributions

var (
	// ActiveSessions tracks the current number of live WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orc",
		Subsystem: "websocket",
		Name:      "sessions_active",
		Help:      "Current number of live WebSocket sessions",
	})

	// ActiveRooms tracks the current number of rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orc",
		Subsystem: "stream",
		Name:      "rooms_active",
		Help:      "Current number of rooms",
	})

	// MessagesPosted counts messages accepted by the stream engine.
	MessagesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "stream",
		Name:      "messages_total",
		Help:      "Total messages accepted by the stream engine",
	}, []string{"stream_kind"})

	// EventsFanned counts events delivered to sessions by the hub.
	EventsFanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "websocket",
		Name:      "events_fanned_total",
		Help:      "Total events delivered to subscribed sessions",
	}, []string{"event_type"})

	// SlowConsumerCloses counts sessions torn down for buffer overflow.
	SlowConsumerCloses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "websocket",
		Name:      "slow_consumer_closes_total",
		Help:      "Sessions closed because their outbound buffer overflowed",
	})

	// HeartbeatCloses counts sessions torn down for missed pongs.
	HeartbeatCloses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "websocket",
		Name:      "heartbeat_closes_total",
		Help:      "Sessions closed after two consecutive missed pongs",
	})

	// OperationDuration tracks orchestrator operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orc",
		Subsystem: "http",
		Name:      "operation_seconds",
		Help:      "Time spent in orchestrator operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"path", "limit_type"})

	// RateLimitRequests counts requests inspected by the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orc",
		Subsystem: "http",
		Name:      "rate_limit_requests_total",
		Help:      "Requests inspected by the rate limiter",
	}, []string{"path"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
