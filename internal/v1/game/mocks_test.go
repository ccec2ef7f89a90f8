package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/larrymotalavigne/job-wars/internal/v1/config"
	"github.com/larrymotalavigne/job-wars/internal/v1/history"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// mockConn implements wsConnection for tests.
type mockConn struct {
	mu     sync.Mutex
	closed bool
}

func (m *mockConn) ReadMessage() (int, []byte, error)      { select {} }
func (m *mockConn) WriteMessage(mt int, data []byte) error { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error     { return nil }

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockRecorder captures history writes.
type mockRecorder struct {
	mu      sync.Mutex
	records []history.MatchRecord
	done    chan struct{}
	fail    bool
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{done: make(chan struct{}, 16)}
}

func (m *mockRecorder) RecordMatch(_ context.Context, rec history.MatchRecord) (int64, error) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	fail := m.fail
	m.mu.Unlock()
	m.done <- struct{}{}
	if fail {
		return 0, context.DeadlineExceeded
	}
	return int64(len(m.records)), nil
}

func (m *mockRecorder) recorded() []history.MatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.MatchRecord(nil), m.records...)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                "8000",
		PingInterval:        30 * time.Second,
		RoomExpiry:          time.Hour,
		ReconnectTimeout:    120 * time.Second,
		TurnDuration:        90 * time.Second,
		MaxActionsPerSecond: 10,
	}
}

func newTestRegistry(cfg *config.Config, store Recorder) *Registry {
	if cfg == nil {
		cfg = testConfig()
	}
	return NewRegistry(cfg, store)
}

// newTestClient attaches a fresh mock-backed client to the registry's live
// set, as ServeWs would.
func newTestClient(g *Registry) (*Client, *mockConn) {
	conn := &mockConn{}
	c := newClient(conn, g, "test")
	g.mu.Lock()
	g.live[c] = struct{}{}
	g.mu.Unlock()
	return c, conn
}

// nextFrame pops the next queued outbound frame, decoded into a generic
// map, failing the test after the timeout.
func nextFrame(t *testing.T, c *Client, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("undecodable outbound frame: %v", err)
		}
		return m
	case <-time.After(timeout):
		t.Fatalf("no outbound frame within %v", timeout)
		return nil
	}
}

// tryNextFrame is nextFrame without the failure: nil when nothing queued.
func tryNextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("undecodable outbound frame: %v", err)
		}
		return m
	default:
		return nil
	}
}

// frameOfType drains queued frames until one with the wanted type appears.
func frameOfType(t *testing.T, c *Client, frameType string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case data := <-c.send:
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("undecodable outbound frame: %v", err)
			}
			if m["type"] == frameType {
				return m
			}
		case <-deadline:
			t.Fatalf("no %q frame within %v", frameType, timeout)
			return nil
		}
	}
}

func send(g *Registry, c *Client, frame map[string]any) {
	data, _ := json.Marshal(frame)
	g.Dispatch(c, data)
}

// createRoom drives the create_room flow and returns the room code and
// player id from the reply.
func createRoom(t *testing.T, g *Registry, c *Client, name string) (code, playerID string) {
	t.Helper()
	send(g, c, map[string]any{"type": protocol.MsgCreateRoom, "playerName": name, "deckId": "deck-" + name})
	reply := nextFrame(t, c, time.Second)
	if reply["type"] != protocol.MsgRoomCreated {
		t.Fatalf("expected room_created, got %v", reply["type"])
	}
	return reply["roomCode"].(string), reply["playerId"].(string)
}

// startPlaying builds a two-player room mid-game: creates, joins and keeps
// both hands so the first turn is armed. Returns code and both player ids.
func startPlaying(t *testing.T, g *Registry, host, guest *Client) (code, hostID, guestID string) {
	t.Helper()
	code, hostID = createRoom(t, g, host, "A")
	send(g, guest, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": code, "playerName": "B", "deckId": "deck-B"})

	start := frameOfType(t, guest, protocol.MsgGameStart, time.Second)
	guestID = start["yourPlayerId"].(string)
	frameOfType(t, host, protocol.MsgGameStart, time.Second)

	send(g, host, map[string]any{"type": protocol.MsgGameAction, "action": map[string]any{"type": protocol.ActionKeepHand}})
	send(g, guest, map[string]any{"type": protocol.MsgGameAction, "action": map[string]any{"type": protocol.ActionKeepHand}})
	frameOfType(t, host, protocol.MsgTurnStart, time.Second)
	// The guest's keep_hand relay lands on the host after the turn_start.
	frameOfType(t, host, protocol.MsgGameAction, time.Second)
	frameOfType(t, guest, protocol.MsgTurnStart, time.Second)

	// The handshake's keep_hand actions seeded the rate window; reset it so
	// tests start from a full budget.
	g.mu.Lock()
	g.rooms[code].actionHistory = nil
	g.mu.Unlock()
	return code, hostID, guestID
}
