package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the multiplayer session server.
//
// Naming convention: namespace_subsystem_name
// - namespace: jobwars (application-level grouping)
// - subsystem: websocket, room, queue, history (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, queue length)
// - Counter: Cumulative events (frames processed, kicks, matches recorded)

var (
	// ActiveConnections tracks the current number of live WebSocket connections
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobwars",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of live WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobwars",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// QueueLength tracks the number of players parked in the matchmaking queue
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobwars",
		Subsystem: "queue",
		Name:      "waiting_players",
		Help:      "Number of players waiting in the matchmaking queue",
	})

	// FramesTotal tracks processed inbound frames by type and outcome
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total inbound frames processed",
	}, []string{"frame_type", "status"})

	// RateLimitExceeded tracks per-room action-window rejections
	RateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "room",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total game actions rejected by the per-room rate limiter",
	})

	// PlayersKicked tracks forced disconnects after repeated violations
	PlayersKicked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "room",
		Name:      "players_kicked_total",
		Help:      "Total players kicked for repeated rate-limit violations",
	})

	// TurnTimeouts tracks turns ended by the timer rather than the owner
	TurnTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "room",
		Name:      "turn_timeouts_total",
		Help:      "Total turns auto-ended by the turn timer",
	})

	// Reconnects tracks successful reconnections into playing rooms
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "websocket",
		Name:      "reconnects_total",
		Help:      "Total successful player reconnections",
	})

	// MatchesRecorded tracks finished matches persisted to the history store
	MatchesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "history",
		Name:      "matches_recorded_total",
		Help:      "Total match records written to the history store",
	}, []string{"status"})

	// ConnRateLimited tracks connection-level limiter rejections
	ConnRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobwars",
		Subsystem: "websocket",
		Name:      "connect_rate_limited_total",
		Help:      "Total connection attempts rejected by the IP rate limiter",
	}, []string{"endpoint"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
