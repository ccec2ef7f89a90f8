package game

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// reaperInterval is how often the idle-room reaper walks the registry.
const reaperInterval = 5 * time.Minute

// RunKeepalive pings every live connection on the configured interval
// until ctx is cancelled. Connections whose write side already shut down
// are dropped from the live set.
func (g *Registry) RunKeepalive(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pingAll()
		}
	}
}

func (g *Registry) pingAll() {
	data := protocol.Marshal(protocol.Ping{Type: protocol.MsgPing, Timestamp: time.Now().UnixMilli()})

	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.live {
		select {
		case <-c.closeSend:
			delete(g.live, c)
		default:
			c.Send(data)
		}
	}
}

// RunReaper deletes idle rooms every five minutes until ctx is cancelled.
// Rooms not playing (waiting and finished alike) are reaped once older
// than the expiry horizon.
func (g *Registry) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.reapIdleRooms()
		}
	}
}

func (g *Registry) reapIdleRooms() {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for code, room := range g.rooms {
		if room.Status != StatusPlaying && now.Sub(room.CreatedAt) > g.cfg.RoomExpiry {
			g.deleteRoomLocked(code)
			logging.Info(context.Background(), "expired idle room",
				zap.String("room_code", code))
		}
	}
}
