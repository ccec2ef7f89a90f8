package game

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/history"
	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/metrics"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// Dispatch decodes one inbound frame and routes it to the matching room
// operation. The registry lock is held for the whole dispatch, so every
// operation observes and mutates shared state atomically.
func (g *Registry) Dispatch(c *Client, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("invalid", "error").Inc()
		c.SendError(protocol.CodeParseError, "Invalid message format")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	status := "ok"
	switch f.Type {
	case protocol.MsgCreateRoom:
		g.handleCreateRoomLocked(c, f)
	case protocol.MsgJoinRoom:
		g.handleJoinRoomLocked(c, f)
	case protocol.MsgFindMatch:
		g.handleFindMatchLocked(c, f)
	case protocol.MsgReconnect:
		g.handleReconnectLocked(c, f)
	case protocol.MsgGameAction, protocol.MsgChat, protocol.MsgEmote, protocol.MsgGameEnd:
		player, room := g.lookupLocked(c)
		if player == nil || room == nil {
			status = "refused"
			c.SendError(protocol.CodeNotInRoom, "Not in a room")
			break
		}
		switch f.Type {
		case protocol.MsgGameAction:
			g.handleGameActionLocked(c, f, player, room)
		case protocol.MsgChat:
			g.handleChatLocked(f, player, room)
		case protocol.MsgEmote:
			g.handleEmoteLocked(f, player, room)
		case protocol.MsgGameEnd:
			g.handleGameEndLocked(f, room)
		}
	case protocol.MsgLeaveRoom:
		g.handleDisconnectLocked(c)
		c.Disconnect()
	case protocol.MsgPong:
		// Keepalive acknowledged
	default:
		status = "unknown"
		logging.Warn(context.Background(), "unknown message type",
			zap.String("frame_type", f.Type))
	}
	metrics.FramesTotal.WithLabelValues(f.Type, status).Inc()
}

func newPlayer(c *Client, f *protocol.Frame) *Player {
	name := f.PlayerName
	if name == "" {
		name = "Player"
	}
	return &Player{
		ID:     uuid.NewString(),
		Name:   name,
		DeckID: f.DeckID,
		client: c,
	}
}

func (g *Registry) handleCreateRoomLocked(c *Client, f *protocol.Frame) {
	player := newPlayer(c, f)
	code := g.generateRoomCodeLocked()
	room := newRoom(code)
	room.Players = []*Player{player}
	g.rooms[code] = room
	metrics.ActiveRooms.Inc()
	g.registerLocked(c, player.ID, code)

	logging.Info(context.Background(), "room created",
		zap.String("room_code", code), zap.String("player_name", player.Name))
	c.SendFrame(protocol.RoomCreated{Type: protocol.MsgRoomCreated, RoomCode: code, PlayerID: player.ID})
}

func (g *Registry) handleJoinRoomLocked(c *Client, f *protocol.Frame) {
	code := strings.ToUpper(f.RoomCode)
	room, ok := g.rooms[code]
	if !ok {
		c.SendError(protocol.CodeRoomNotFound, "Room not found")
		return
	}
	if room.Status != StatusWaiting {
		c.SendError(protocol.CodeGameInProgress, "Game already in progress")
		return
	}
	if len(room.Players) >= 2 {
		c.SendError(protocol.CodeRoomFull, "Room is full")
		return
	}

	player := newPlayer(c, f)
	room.Players = append(room.Players, player)
	g.registerLocked(c, player.ID, code)

	logging.Info(context.Background(), "player joined room",
		zap.String("room_code", code), zap.String("player_name", player.Name))
	room.broadcastLocked(protocol.PlayerJoined{
		Type:       protocol.MsgPlayerJoined,
		PlayerID:   player.ID,
		PlayerName: player.Name,
	})
	if len(room.Players) == 2 {
		g.startGameLocked(room)
	}
}

func (g *Registry) handleFindMatchLocked(c *Client, f *protocol.Frame) {
	player := newPlayer(c, f)

	if len(g.queue) > 0 {
		opponent := g.queue[0]
		g.queue = g.queue[1:]
		metrics.QueueLength.Set(float64(len(g.queue)))

		code := g.generateRoomCodeLocked()
		room := newRoom(code)
		room.Players = []*Player{opponent, player}
		g.rooms[code] = room
		metrics.ActiveRooms.Inc()
		g.registerLocked(opponent.client, opponent.ID, code)
		g.registerLocked(c, player.ID, code)

		logging.Info(context.Background(), "players matched",
			zap.String("room_code", code),
			zap.String("player1", opponent.Name), zap.String("player2", player.Name))
		for _, p := range room.Players {
			p.client.SendFrame(protocol.RoomCreated{
				Type:     protocol.MsgRoomCreated,
				RoomCode: code,
				PlayerID: p.ID,
			})
		}
		g.startGameLocked(room)
		return
	}

	g.queue = append(g.queue, player)
	metrics.QueueLength.Set(float64(len(g.queue)))
	g.registerLocked(c, player.ID, queueSentinel)
	logging.Info(context.Background(), "player waiting for match",
		zap.String("player_name", player.Name))
}

// startGameLocked runs the waiting → playing transition and deals each
// player its personalised game_start payload.
func (g *Registry) startGameLocked(room *Room) {
	room.Status = StatusPlaying
	p1, p2 := room.Players[0], room.Players[1]
	logging.Info(context.Background(), "game starting",
		zap.String("room_code", room.Code),
		zap.String("player1", p1.Name), zap.String("player2", p2.Name))

	for _, pair := range []struct{ player, opponent *Player }{{p1, p2}, {p2, p1}} {
		pair.player.client.SendFrame(protocol.GameStart{
			Type:         protocol.MsgGameStart,
			RoomCode:     room.Code,
			YourPlayerID: pair.player.ID,
			OpponentID:   pair.opponent.ID,
			Player1:      p1.Info(),
			Player2:      p2.Info(),
		})
	}
}

func (g *Registry) handleReconnectLocked(c *Client, f *protocol.Frame) {
	room, ok := g.rooms[f.RoomCode]
	if !ok {
		c.SendError(protocol.CodeRoomNotFound, "Room not found")
		return
	}
	player := room.memberLocked(f.PlayerID)
	if player == nil {
		c.SendError(protocol.CodePlayerNotFound, "Player not found")
		return
	}
	if player.DisconnectedAt == nil {
		c.SendError(protocol.CodeNotDisconnected, "Player is not disconnected")
		return
	}

	if player.reconnectTimer != nil {
		player.reconnectTimer.Stop()
		player.reconnectTimer = nil
	}
	player.client = c
	player.DisconnectedAt = nil
	room.DisconnectDeadline = time.Time{}
	g.registerLocked(c, player.ID, room.Code)
	metrics.Reconnects.Inc()

	logging.Info(context.Background(), "player reconnected",
		zap.String("room_code", room.Code), zap.String("player_id", player.ID))
	c.SendFrame(protocol.Reconnected{Type: protocol.MsgReconnected, GameState: room.GameState})
	room.broadcastOthersLocked(player.ID, protocol.PlayerJoined{
		Type:       protocol.MsgPlayerJoined,
		PlayerID:   player.ID,
		PlayerName: player.Name,
	})
}

func (g *Registry) handleGameActionLocked(c *Client, f *protocol.Frame, player *Player, room *Room) {
	now := time.Now()

	// Rate limiting: sliding 1-second window shared by the room.
	room.pruneActionsLocked(now)
	if room.countActionsLocked(player.ID) >= g.cfg.MaxActionsPerSecond {
		room.SuspiciousActivity++
		metrics.RateLimitExceeded.Inc()
		if room.SuspiciousActivity > suspiciousThreshold {
			metrics.PlayersKicked.Inc()
			logging.Warn(context.Background(), "kicking player for repeated rate-limit violations",
				zap.String("room_code", room.Code), zap.String("player_id", player.ID))
			c.SendError(protocol.CodeKicked, "Too many violations")
			c.Disconnect()
			return
		}
		c.SendError(protocol.CodeRateLimit, "Too many actions")
		return
	}

	actionType := protocol.ActionType(f.Action)
	room.recordActionLocked(player.ID, actionType, now)

	// Turn validation (mulligan actions are exempt)
	isMulligan := actionType == protocol.ActionMulligan || actionType == protocol.ActionKeepHand
	if !isMulligan && room.CurrentTurnPlayerID != "" && room.CurrentTurnPlayerID != player.ID {
		c.SendError(protocol.CodeNotYourTurn, "It is not your turn")
		return
	}

	room.broadcastOthersLocked(player.ID, protocol.GameAction{
		Type:      protocol.MsgGameAction,
		PlayerID:  player.ID,
		Action:    f.Action,
		Timestamp: now.UnixMilli(),
	})

	switch {
	case actionType == protocol.ActionEndTurn:
		if other := room.opponentLocked(player.ID); other != nil {
			g.startTurnLocked(room, other.ID)
		}
	case actionType == protocol.ActionKeepHand && room.turnTimer == nil:
		room.GameStartTime = now
		g.startTurnLocked(room, room.Players[0].ID)
	}

	if len(f.GameState) > 0 {
		room.GameState = f.GameState
	}
}

func (g *Registry) handleChatLocked(f *protocol.Frame, player *Player, room *Room) {
	room.broadcastLocked(protocol.Chat{
		Type:       protocol.MsgChat,
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Message:    f.Message,
	})
}

func (g *Registry) handleEmoteLocked(f *protocol.Frame, player *Player, room *Room) {
	room.broadcastLocked(protocol.Emote{
		Type:       protocol.MsgEmote,
		PlayerID:   player.ID,
		PlayerName: player.Name,
		EmoteID:    f.EmoteID,
	})
}

func (g *Registry) handleGameEndLocked(f *protocol.Frame, room *Room) {
	room.Status = StatusFinished
	room.cancelTurnTimerLocked()

	if len(room.Players) != 2 {
		return
	}
	p1, p2 := room.Players[0], room.Players[1]
	start := room.GameStartTime
	if start.IsZero() {
		start = room.CreatedAt
	}
	g.recordMatchAsync(history.MatchRecord{
		Player1ID:   p1.ID,
		Player1Name: p1.Name,
		Deck1ID:     p1.DeckID,
		Player2ID:   p2.ID,
		Player2Name: p2.Name,
		Deck2ID:     p2.DeckID,
		WinnerID:    f.WinnerID,
		StartTime:   start.UnixMilli(),
		EndTime:     time.Now().UnixMilli(),
		TurnCount:   f.TurnCount,
	}, room.Code)
}
