package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"ridepool/internal/config"
)

// EventError is sent to the originating connection when a command fails.
const EventError = "error"

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CommandHandler processes inbound socket commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, c *Client, cmd Envelope)
}

const maxMessageSize = 64 << 10

// Client is one websocket connection of an authenticated user.
type Client struct {
	UserID string

	hub  *Hub
	conn *websocket.Conn
	cfg  config.WebSocketConfig
	send chan []byte

	// guarded by hub.mu
	closed bool
	groups map[string]struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, cfg config.WebSocketConfig) *Client {
	return &Client{
		UserID: userID,
		hub:    hub,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		groups: make(map[string]struct{}),
	}
}

// enqueue must be called with hub.mu held.
func (c *Client) enqueue(msg []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeConn() {
	_ = c.conn.Close()
}

// Send queues an event for this connection only.
func (c *Client) Send(event string, payload any) error {
	return c.hub.sendTo(c, event, payload)
}

// SendError reports a failed command to this connection only.
func (c *Client) SendError(message string) {
	if err := c.Send(EventError, ErrorPayload{Message: message}); err != nil {
		c.hub.logger.Debug("failed to queue error event", "user_id", c.UserID, "error", err)
	}
}

// Run registers the client and serves it until the connection closes or ctx ends.
func (c *Client) Run(ctx context.Context, handler CommandHandler) {
	c.hub.Register(c)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx, handler)
}

func (c *Client) readPump(ctx context.Context, handler CommandHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	readDeadline := 2 * c.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket closed unexpectedly", "user_id", c.UserID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var cmd Envelope
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Event == "" {
			c.SendError("malformed message")
			continue
		}
		handler.HandleCommand(ctx, c, cmd)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
