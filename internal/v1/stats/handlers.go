// Package stats serves the HTTP read surface: server health, the lobby
// browser and the match-history queries.
package stats

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/game"
	"github.com/larrymotalavigne/job-wars/internal/v1/history"
	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
)

// CoordinatorSnapshot is the slice of the room coordinator the health and
// lobby endpoints read.
type CoordinatorSnapshot interface {
	RoomCount() int
	QueueLength() int
	Uptime() float64
	WaitingRooms() []game.WaitingRoom
}

// HistoryReader is the slice of the match store the stats endpoints read.
type HistoryReader interface {
	Stats(ctx context.Context) (*history.Stats, error)
	Leaderboard(ctx context.Context) ([]history.LeaderboardEntry, error)
	RecentMatches(ctx context.Context) ([]history.Match, error)
	PlayerStats(ctx context.Context, playerID string) (*history.PlayerStats, error)
}

// Handler exposes the read endpoints over the coordinator and the history
// store.
type Handler struct {
	coord CoordinatorSnapshot
	store HistoryReader
}

// NewHandler creates a stats handler.
func NewHandler(coord CoordinatorSnapshot, store HistoryReader) *Handler {
	return &Handler{coord: coord, store: store}
}

// Register mounts every read endpoint on the router group.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/api/rooms", h.Rooms)
	r.GET("/api/stats", h.Stats)
	r.GET("/api/leaderboard", h.Leaderboard)
	r.GET("/api/matches/recent", h.RecentMatches)
	r.GET("/api/player/:id", h.Player)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"rooms":       h.coord.RoomCount(),
		"queueLength": h.coord.QueueLength(),
		"uptime":      h.coord.Uptime(),
	})
}

// Rooms handles GET /api/rooms: waiting rooms with one seat filled, newest
// first.
func (h *Handler) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.WaitingRooms())
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.store.Stats(c.Request.Context())
	if err != nil {
		logging.Error(c.Request.Context(), "stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// Leaderboard handles GET /api/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	entries, err := h.store.Leaderboard(c.Request.Context())
	if err != nil {
		logging.Error(c.Request.Context(), "leaderboard query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// RecentMatches handles GET /api/matches/recent.
func (h *Handler) RecentMatches(c *gin.Context) {
	matches, err := h.store.RecentMatches(c.Request.Context())
	if err != nil {
		logging.Error(c.Request.Context(), "recent matches query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, matches)
}

// Player handles GET /api/player/:id, returning 404 for unknown players.
func (h *Handler) Player(c *gin.Context) {
	p, err := h.store.PlayerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.Error(c.Request.Context(), "player query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Player not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}
