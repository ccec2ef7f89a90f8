package game

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/config"
	"github.com/larrymotalavigne/job-wars/internal/v1/history"
	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/metrics"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// queueSentinel marks a connection parked in the matchmaking queue in the
// reverse registry; the dispatcher treats it as "no room".
const queueSentinel = "__queue__"

// Recorder is the slice of the history store the coordinator writes to.
type Recorder interface {
	RecordMatch(ctx context.Context, m history.MatchRecord) (int64, error)
}

// binding maps an accepted connection to its player and room.
type binding struct {
	playerID string
	roomCode string
}

// Registry owns all shared coordinator state: rooms by code, the
// matchmaking queue, the connection reverse map and the live connection
// set. One mutex guards every read-modify-write, so room operations,
// timer callbacks and the disconnect path are mutually atomic.
type Registry struct {
	cfg   *config.Config
	store Recorder

	mu    sync.Mutex
	rooms map[string]*Room
	queue []*Player
	conns map[*Client]binding
	live  map[*Client]struct{}

	startTime time.Time
	rng       *rand.Rand

	// wg tracks in-flight history writes for shutdown draining.
	wg sync.WaitGroup
}

// NewRegistry creates an empty registry. store may be nil, in which case
// finished matches are not persisted.
func NewRegistry(cfg *config.Config, store Recorder) *Registry {
	return &Registry{
		cfg:       cfg,
		store:     store,
		rooms:     make(map[string]*Room),
		conns:     make(map[*Client]binding),
		live:      make(map[*Client]struct{}),
		startTime: time.Now(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// generateRoomCodeLocked rejection-samples a code unused by any live room.
func (g *Registry) generateRoomCodeLocked() string {
	buf := make([]byte, roomCodeLength)
	for {
		for i := range buf {
			buf[i] = roomCodeChars[g.rng.Intn(len(roomCodeChars))]
		}
		code := string(buf)
		if _, exists := g.rooms[code]; !exists {
			return code
		}
	}
}

// registerLocked binds a connection to (player, room) in the reverse map.
func (g *Registry) registerLocked(c *Client, playerID, roomCode string) {
	g.conns[c] = binding{playerID: playerID, roomCode: roomCode}
}

// lookupLocked resolves a connection to its player and room. A queue
// parking or a binding to a deleted room resolves to (nil, nil); a binding
// whose player is no longer a member resolves to a nil player.
func (g *Registry) lookupLocked(c *Client) (*Player, *Room) {
	b, ok := g.conns[c]
	if !ok {
		return nil, nil
	}
	room, ok := g.rooms[b.roomCode]
	if !ok {
		return nil, nil
	}
	return room.memberLocked(b.playerID), room
}

// deleteRoomLocked removes a room and its armed turn timer.
func (g *Registry) deleteRoomLocked(code string) {
	if room, ok := g.rooms[code]; ok {
		room.cancelTurnTimerLocked()
		delete(g.rooms, code)
		metrics.ActiveRooms.Dec()
	}
}

// removeFromQueueLocked drops queue entries matching the predicate.
func (g *Registry) removeFromQueueLocked(match func(*Player) bool) {
	kept := g.queue[:0]
	for _, p := range g.queue {
		if !match(p) {
			kept = append(kept, p)
		}
	}
	g.queue = kept
	metrics.QueueLength.Set(float64(len(g.queue)))
}

// HandleDisconnect runs the disconnect path for a closed connection. It is
// invoked from the read pump on every exit, clean or not, and is a no-op
// the second time around (leave_room runs it before the pump exits).
func (g *Registry) HandleDisconnect(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handleDisconnectLocked(c)
}

func (g *Registry) handleDisconnectLocked(c *Client) {
	delete(g.live, c)

	b, bound := g.conns[c]
	delete(g.conns, c)

	if !bound || b.roomCode == queueSentinel {
		// Queued or never bound: sweep the queue by connection identity.
		g.removeFromQueueLocked(func(p *Player) bool { return p.client == c })
		return
	}

	room, ok := g.rooms[b.roomCode]
	if !ok {
		return
	}
	player := room.memberLocked(b.playerID)
	if player == nil {
		return
	}
	// Sample the code before any membership mutation.
	code := room.Code

	logging.Info(context.Background(), "player disconnected",
		zap.String("room_code", code),
		zap.String("player_id", player.ID),
		zap.String("status", room.Status))

	switch room.Status {
	case StatusWaiting:
		g.dropPlayerLocked(room, player)
		g.removeFromQueueLocked(func(p *Player) bool { return p.ID == player.ID })

	case StatusPlaying:
		now := time.Now()
		player.DisconnectedAt = &now
		deadline := now.Add(g.cfg.ReconnectTimeout)
		room.DisconnectDeadline = deadline
		room.broadcastOthersLocked(player.ID, protocol.PlayerDisconnected{
			Type:              protocol.MsgPlayerDrop,
			PlayerID:          player.ID,
			ReconnectDeadline: deadline.UnixMilli(),
		})
		g.armReconnectTimeoutLocked(code, player)
	}
}

// dropPlayerLocked removes a player from the member list, announces the
// departure and deletes the room when it empties.
func (g *Registry) dropPlayerLocked(room *Room, player *Player) {
	kept := room.Players[:0]
	for _, p := range room.Players {
		if p.ID != player.ID {
			kept = append(kept, p)
		}
	}
	room.Players = kept

	room.broadcastLocked(protocol.PlayerLeft{
		Type:       protocol.MsgPlayerLeft,
		PlayerID:   player.ID,
		PlayerName: player.Name,
	})
	if len(room.Players) == 0 {
		g.deleteRoomLocked(room.Code)
	}
}

// recordMatchAsync writes a finished match without blocking the registry
// lock. Failures are logged and swallowed: persistence never affects live
// gameplay.
func (g *Registry) recordMatchAsync(m history.MatchRecord, roomCode string) {
	if g.store == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := g.store.RecordMatch(ctx, m); err != nil {
			metrics.MatchesRecorded.WithLabelValues("error").Inc()
			logging.Error(ctx, "failed to record match",
				zap.String("room_code", roomCode), zap.Error(err))
			return
		}
		metrics.MatchesRecorded.WithLabelValues("ok").Inc()
		logging.Info(ctx, "match recorded", zap.String("room_code", roomCode))
	}()
}

// Drain waits for in-flight history writes, bounded by ctx.
func (g *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Snapshot queries for the HTTP read surface ---

// WaitingRoom is one row of the lobby browser.
type WaitingRoom struct {
	Code         string `json:"code"`
	HostName     string `json:"hostName"`
	HostDeckID   string `json:"hostDeckId"`
	CreatedAt    int64  `json:"createdAt"`
	PlayersCount int    `json:"playersCount"`
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// QueueLength returns the number of players waiting for a match.
func (g *Registry) QueueLength() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Uptime returns seconds since the registry was created.
func (g *Registry) Uptime() float64 {
	return time.Since(g.startTime).Seconds()
}

// WaitingRooms lists joinable rooms (waiting, one seat filled), newest
// first.
func (g *Registry) WaitingRooms() []WaitingRoom {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := []WaitingRoom{}
	for _, r := range g.rooms {
		if r.Status != StatusWaiting || len(r.Players) != 1 {
			continue
		}
		host := r.Players[0]
		out = append(out, WaitingRoom{
			Code:         r.Code,
			HostName:     host.Name,
			HostDeckID:   host.DeckID,
			CreatedAt:    r.CreatedAt.UnixMilli(),
			PlayersCount: len(r.Players),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}
