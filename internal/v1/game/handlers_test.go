package game

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

func TestCreateRoom(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, _ := newTestClient(g)

	code, playerID := createRoom(t, g, c, "Alice")

	assert.Len(t, code, 6)
	assert.NotEmpty(t, playerID)
	assert.Equal(t, 1, g.RoomCount())

	g.mu.Lock()
	room := g.rooms[code]
	g.mu.Unlock()
	require.NotNil(t, room)
	assert.Equal(t, StatusWaiting, room.Status)
	require.Len(t, room.Players, 1)
	assert.Equal(t, "Alice", room.Players[0].Name)
}

func TestCreateRoomDefaultsPlayerName(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, _ := newTestClient(g)

	code, _ := createRoom(t, g, c, "")

	g.mu.Lock()
	room := g.rooms[code]
	g.mu.Unlock()
	require.NotNil(t, room)
	assert.Equal(t, "Player", room.Players[0].Name)
}

func TestJoinRoomStartsGame(t *testing.T) {
	g := newTestRegistry(nil, nil)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)

	code, hostID := createRoom(t, g, host, "A")
	send(g, guest, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": code, "playerName": "B", "deckId": "d2"})

	// Host sees the join announcement before the game starts.
	joined := frameOfType(t, host, protocol.MsgPlayerJoined, time.Second)
	assert.Equal(t, "B", joined["playerName"])

	hostStart := frameOfType(t, host, protocol.MsgGameStart, time.Second)
	guestStart := frameOfType(t, guest, protocol.MsgGameStart, time.Second)

	assert.Equal(t, hostID, hostStart["yourPlayerId"])
	assert.Equal(t, hostStart["opponentId"], guestStart["yourPlayerId"])
	assert.Equal(t, code, hostStart["roomCode"])
	assert.Equal(t, guestStart["player1"].(map[string]any)["id"], hostID)

	g.mu.Lock()
	room := g.rooms[code]
	g.mu.Unlock()
	assert.Equal(t, StatusPlaying, room.Status)
}

func TestJoinRoomUppercasesCode(t *testing.T) {
	g := newTestRegistry(nil, nil)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)

	code, _ := createRoom(t, g, host, "A")
	send(g, guest, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": strings.ToLower(code), "playerName": "B"})

	frameOfType(t, guest, protocol.MsgGameStart, time.Second)
}

func TestJoinRoomNotFound(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, _ := newTestClient(g)

	send(g, c, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": "XXXXXX", "playerName": "B"})
	reply := nextFrame(t, c, time.Second)
	assert.Equal(t, protocol.MsgError, reply["type"])
	assert.Equal(t, protocol.CodeRoomNotFound, reply["code"])
}

func TestJoinRoomInProgress(t *testing.T) {
	g := newTestRegistry(nil, nil)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)
	late, _ := newTestClient(g)

	code, _ := createRoom(t, g, host, "A")
	send(g, guest, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": code, "playerName": "B"})
	frameOfType(t, guest, protocol.MsgGameStart, time.Second)

	send(g, late, map[string]any{"type": protocol.MsgJoinRoom, "roomCode": code, "playerName": "C"})
	reply := nextFrame(t, late, time.Second)
	assert.Equal(t, protocol.CodeGameInProgress, reply["code"])
}

func TestFindMatchQueuesThenPairs(t *testing.T) {
	g := newTestRegistry(nil, nil)
	first, _ := newTestClient(g)
	second, _ := newTestClient(g)

	send(g, first, map[string]any{"type": protocol.MsgFindMatch, "playerName": "A", "deckId": "d1"})
	assert.Equal(t, 1, g.QueueLength())
	assert.Nil(t, tryNextFrame(t, first))

	send(g, second, map[string]any{"type": protocol.MsgFindMatch, "playerName": "B", "deckId": "d2"})
	assert.Equal(t, 0, g.QueueLength())
	assert.Equal(t, 1, g.RoomCount())

	firstCreated := frameOfType(t, first, protocol.MsgRoomCreated, time.Second)
	secondCreated := frameOfType(t, second, protocol.MsgRoomCreated, time.Second)
	assert.Equal(t, firstCreated["roomCode"], secondCreated["roomCode"])
	assert.NotEqual(t, firstCreated["playerId"], secondCreated["playerId"])

	firstStart := frameOfType(t, first, protocol.MsgGameStart, time.Second)
	// The queued player is seated first.
	assert.Equal(t, firstCreated["playerId"], firstStart["player1"].(map[string]any)["id"])
	frameOfType(t, second, protocol.MsgGameStart, time.Second)
}

func TestChatBroadcastsToEveryone(t *testing.T) {
	g := newTestRegistry(nil, nil)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)
	_, hostID, _ := startPlaying(t, g, host, guest)

	send(g, host, map[string]any{"type": protocol.MsgChat, "message": "glhf"})

	for _, c := range []*Client{host, guest} {
		chat := frameOfType(t, c, protocol.MsgChat, time.Second)
		assert.Equal(t, "glhf", chat["message"])
		assert.Equal(t, hostID, chat["playerId"])
		assert.Equal(t, "A", chat["playerName"])
	}
}

func TestEmoteBroadcastsToEveryone(t *testing.T) {
	g := newTestRegistry(nil, nil)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)
	startPlaying(t, g, host, guest)

	send(g, guest, map[string]any{"type": protocol.MsgEmote, "emoteId": "wave"})

	for _, c := range []*Client{host, guest} {
		emote := frameOfType(t, c, protocol.MsgEmote, time.Second)
		assert.Equal(t, "wave", emote["emoteId"])
	}
}

func TestBoundOperationsRequireRoom(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, _ := newTestClient(g)

	for _, frameType := range []string{protocol.MsgGameAction, protocol.MsgChat, protocol.MsgEmote, protocol.MsgGameEnd} {
		send(g, c, map[string]any{"type": frameType})
		reply := nextFrame(t, c, time.Second)
		assert.Equal(t, protocol.CodeNotInRoom, reply["code"], "frame type %s", frameType)
	}
}

func TestParseErrorKeepsConnectionOpen(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, conn := newTestClient(g)

	g.Dispatch(c, []byte("{not json"))
	reply := nextFrame(t, c, time.Second)
	assert.Equal(t, protocol.CodeParseError, reply["code"])
	assert.False(t, conn.isClosed())

	// Still able to operate afterwards.
	createRoom(t, g, c, "A")
}

func TestUnknownTypeDroppedSilently(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, _ := newTestClient(g)

	send(g, c, map[string]any{"type": "warp_drive"})
	assert.Nil(t, tryNextFrame(t, c))
}

func TestGameEndRecordsMatch(t *testing.T) {
	rec := newMockRecorder()
	g := newTestRegistry(nil, rec)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)
	code, hostID, guestID := startPlaying(t, g, host, guest)

	send(g, host, map[string]any{"type": protocol.MsgGameEnd, "winnerId": hostID, "turnCount": 17})

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("match was not recorded")
	}

	records := rec.recorded()
	require.Len(t, records, 1)
	m := records[0]
	assert.Equal(t, hostID, m.Player1ID)
	assert.Equal(t, guestID, m.Player2ID)
	assert.Equal(t, hostID, m.WinnerID)
	assert.Equal(t, 17, m.TurnCount)
	assert.GreaterOrEqual(t, m.EndTime, m.StartTime)

	g.mu.Lock()
	room := g.rooms[code]
	g.mu.Unlock()
	assert.Equal(t, StatusFinished, room.Status)
	assert.Nil(t, room.turnTimer)
}

func TestGameEndStoreFailureIsSwallowed(t *testing.T) {
	rec := newMockRecorder()
	rec.fail = true
	g := newTestRegistry(nil, rec)
	host, _ := newTestClient(g)
	guest, _ := newTestClient(g)
	code, hostID, _ := startPlaying(t, g, host, guest)

	send(g, host, map[string]any{"type": protocol.MsgGameEnd, "winnerId": hostID, "turnCount": 3})
	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("store was never called")
	}

	// Gameplay state is unaffected by the failed write.
	g.mu.Lock()
	room := g.rooms[code]
	g.mu.Unlock()
	require.NotNil(t, room)
	assert.Equal(t, StatusFinished, room.Status)
}

func TestLeaveRoomDeletesWaitingRoom(t *testing.T) {
	g := newTestRegistry(nil, nil)
	c, conn := newTestClient(g)
	createRoom(t, g, c, "A")

	send(g, c, map[string]any{"type": protocol.MsgLeaveRoom})

	assert.Equal(t, 0, g.RoomCount())
	assert.True(t, conn.isClosed())
	g.mu.Lock()
	_, stillBound := g.conns[c]
	g.mu.Unlock()
	assert.False(t, stillBound)
}
