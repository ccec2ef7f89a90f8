package game

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/metrics"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// autoEndTurnAction is the synthesised action broadcast when a turn timer
// fires.
var autoEndTurnAction = json.RawMessage(`{"type":"end_turn","auto":true}`)

// startTurnLocked hands the turn to playerID: cancels any armed timer,
// stamps the owner and start instant, announces turn_start and arms a fresh
// timer. At most one turn timer is armed per room.
func (g *Registry) startTurnLocked(room *Room, playerID string) {
	room.cancelTurnTimerLocked()
	room.CurrentTurnPlayerID = playerID
	room.CurrentTurnStart = time.Now()
	room.broadcastLocked(protocol.TurnStart{
		Type:         protocol.MsgTurnStart,
		PlayerID:     playerID,
		TurnDuration: g.cfg.TurnDuration.Milliseconds(),
	})

	code := room.Code
	room.turnTimer = time.AfterFunc(g.cfg.TurnDuration, func() {
		g.turnTimerFired(code, playerID)
	})
}

// turnTimerFired auto-ends an expired turn. The armed player id is
// re-checked under the lock: a timer cancelled after firing, or racing a
// manual end_turn, becomes a no-op.
func (g *Registry) turnTimerFired(roomCode, playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomCode]
	if !ok || room.Status != StatusPlaying || room.CurrentTurnPlayerID != playerID {
		return
	}

	logging.Info(context.Background(), "auto-ending turn",
		zap.String("room_code", roomCode), zap.String("player_id", playerID))
	metrics.TurnTimeouts.Inc()

	room.broadcastLocked(protocol.GameAction{
		Type:      protocol.MsgGameAction,
		PlayerID:  playerID,
		Action:    autoEndTurnAction,
		Timestamp: time.Now().UnixMilli(),
	})
	if other := room.opponentLocked(playerID); other != nil {
		g.startTurnLocked(room, other.ID)
	}
}

// armReconnectTimeoutLocked starts the per-player grace timer after a
// transport loss during play.
func (g *Registry) armReconnectTimeoutLocked(roomCode string, player *Player) {
	if player.reconnectTimer != nil {
		player.reconnectTimer.Stop()
	}
	playerID := player.ID
	player.reconnectTimer = time.AfterFunc(g.cfg.ReconnectTimeout, func() {
		g.reconnectTimedOut(roomCode, playerID)
	})
}

// reconnectTimedOut evicts a player whose grace window expired. A
// reconnect that won the race clears DisconnectedAt first, making this a
// no-op; cancellation therefore never leaks a partial eviction.
func (g *Registry) reconnectTimedOut(roomCode, playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomCode]
	if !ok {
		return
	}
	player := room.memberLocked(playerID)
	if player == nil || player.DisconnectedAt == nil {
		return
	}

	logging.Info(context.Background(), "reconnect window expired",
		zap.String("room_code", roomCode), zap.String("player_id", playerID))
	g.dropPlayerLocked(room, player)
}
