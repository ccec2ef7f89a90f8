package game

import (
	"encoding/json"
	"time"

	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// Room status values.
const (
	StatusWaiting  = "waiting"
	StatusPlaying  = "playing"
	StatusFinished = "finished"
)

// roomCodeChars excludes the easily confused I, O, S, 0 and 1.
const roomCodeChars = "ABCDEFGHJKLMNPQRTUVWXYZ23456789"

const (
	roomCodeLength      = 6
	actionWindow        = time.Second
	actionHistoryMax    = 100
	suspiciousThreshold = 5
)

// Player is a seat in a room. The bound client is swapped on reconnect;
// while DisconnectedAt is set the old connection is stale and must not be
// written to.
type Player struct {
	ID     string
	Name   string
	DeckID string

	client *Client

	DisconnectedAt *time.Time
	reconnectTimer *time.Timer
}

// Info returns the public descriptor embedded in game_start payloads.
func (p *Player) Info() protocol.PlayerInfo {
	return protocol.PlayerInfo{ID: p.ID, Name: p.Name, DeckID: p.DeckID}
}

// actionEvent is one entry of the sliding rate-limit window.
type actionEvent struct {
	playerID   string
	actionType string
	ts         time.Time
}

// Room is one live session. All fields are guarded by the registry lock.
type Room struct {
	Code    string
	Players []*Player
	Status  string

	CreatedAt     time.Time
	GameStartTime time.Time

	// GameState is the opaque snapshot clients send, relayed verbatim to a
	// reconnecting peer.
	GameState json.RawMessage

	DisconnectDeadline time.Time

	CurrentTurnPlayerID string
	CurrentTurnStart    time.Time
	turnTimer           *time.Timer

	actionHistory      []actionEvent
	SuspiciousActivity int
}

func newRoom(code string) *Room {
	return &Room{
		Code:      code,
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
	}
}

// memberLocked returns the member with the given id, or nil.
func (r *Room) memberLocked(playerID string) *Player {
	for _, p := range r.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// opponentLocked returns the member that is not playerID, or nil.
func (r *Room) opponentLocked(playerID string) *Player {
	for _, p := range r.Players {
		if p.ID != playerID {
			return p
		}
	}
	return nil
}

// broadcastLocked sends a frame to every member whose connection is not
// stale. Send failures are swallowed by the client layer and never abort
// the fan-out.
func (r *Room) broadcastLocked(v any) {
	data := protocol.Marshal(v)
	for _, p := range r.Players {
		if p.DisconnectedAt == nil && p.client != nil {
			p.client.Send(data)
		}
	}
}

// broadcastOthersLocked is broadcastLocked excluding one sender id.
func (r *Room) broadcastOthersLocked(excludeID string, v any) {
	data := protocol.Marshal(v)
	for _, p := range r.Players {
		if p.ID != excludeID && p.DisconnectedAt == nil && p.client != nil {
			p.client.Send(data)
		}
	}
}

// pruneActionsLocked evicts window entries older than 1 second.
func (r *Room) pruneActionsLocked(now time.Time) {
	kept := r.actionHistory[:0]
	for _, a := range r.actionHistory {
		if now.Sub(a.ts) < actionWindow {
			kept = append(kept, a)
		}
	}
	r.actionHistory = kept
}

// countActionsLocked counts current window entries owned by playerID.
func (r *Room) countActionsLocked(playerID string) int {
	n := 0
	for _, a := range r.actionHistory {
		if a.playerID == playerID {
			n++
		}
	}
	return n
}

// recordActionLocked appends an event and truncates the window to its most
// recent entries.
func (r *Room) recordActionLocked(playerID, actionType string, now time.Time) {
	r.actionHistory = append(r.actionHistory, actionEvent{playerID: playerID, actionType: actionType, ts: now})
	if len(r.actionHistory) > actionHistoryMax {
		r.actionHistory = r.actionHistory[len(r.actionHistory)-actionHistoryMax:]
	}
}

// cancelTurnTimerLocked stops any armed turn timer. Idempotent; a timer
// that already fired re-checks ownership before acting.
func (r *Room) cancelTurnTimerLocked() {
	if r.turnTimer != nil {
		r.turnTimer.Stop()
		r.turnTimer = nil
	}
}
