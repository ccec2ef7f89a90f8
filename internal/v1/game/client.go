// Package game implements the room coordinator: the in-memory state machine
// that owns rooms and players, multiplexes concurrent connections, drives
// turn timers, polices misbehaviour and reconciles disconnect/reconnect.
package game

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/metrics"
	"github.com/larrymotalavigne/job-wars/internal/v1/protocol"
)

// wsConnection defines the interface for WebSocket connection operations.
// In production this is satisfied by *websocket.Conn; tests substitute mocks.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// dispatcher is the slice of the registry a client needs: frame routing and
// disconnect fan-out.
type dispatcher interface {
	Dispatch(c *Client, data []byte)
	HandleDisconnect(c *Client)
}

// Client is one accepted WebSocket connection. It is pure transport: player
// identity lives in the registry, and a reconnect binds a new Client to an
// existing player.
type Client struct {
	conn wsConnection
	reg  dispatcher

	send      chan []byte
	closeSend chan struct{}
	closeOnce sync.Once

	remoteAddr string
}

func newClient(conn wsConnection, reg dispatcher, remoteAddr string) *Client {
	return &Client{
		conn:       conn,
		reg:        reg,
		send:       make(chan []byte, 256),
		closeSend:  make(chan struct{}),
		remoteAddr: remoteAddr,
	}
}

// Send queues a frame for delivery. Sends to a full or closing client are
// dropped rather than blocking the caller.
func (c *Client) Send(data []byte) {
	if data == nil {
		return
	}
	select {
	case <-c.closeSend:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping frame",
			zap.String("remote", c.remoteAddr))
	}
}

// SendFrame marshals and queues an outbound frame.
func (c *Client) SendFrame(v any) {
	c.Send(protocol.Marshal(v))
}

// SendError queues an error frame.
func (c *Client) SendError(code, message string) {
	c.SendFrame(protocol.NewError(code, message))
}

// Disconnect forcefully closes the underlying connection (e.g. on kick).
// The read pump observes the close and runs the disconnect path.
func (c *Client) Disconnect() {
	c.conn.Close()
}

// shutdownSend stops the write pump. Idempotent.
func (c *Client) shutdownSend() {
	c.closeOnce.Do(func() { close(c.closeSend) })
}

// readPump continuously reads text frames and hands them to the registry.
// The deferred disconnect path runs on every exit: clean close, read error
// or kick.
func (c *Client) readPump() {
	defer func() {
		c.reg.HandleDisconnect(c)
		c.shutdownSend()
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.reg.Dispatch(c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.Error(err))
				return
			}
		case <-c.closeSend:
			// Drain anything queued before the shutdown was requested.
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
