package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chesshub/internal/metrics"
	"chesshub/internal/models"
)

// Client is one authenticated websocket connection bound to a user identity.
type Client struct {
	UserID       string
	Username     string
	ConnectionID string
	Conn         *websocket.Conn
	mu           sync.Mutex
	hook         func(models.WSFrame)
}

func NewClient(conn *websocket.Conn, userID, username string) *Client {
	return &Client{
		UserID:       userID,
		Username:     username,
		ConnectionID: uuid.New().String(),
		Conn:         conn,
	}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

func (c *Client) Send(frame models.WSFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hook != nil {
		c.hook(frame)
		return
	}
	if c.Conn == nil {
		return
	}
	_ = c.Conn.WriteJSON(frame)
}

// Reject sends a rejection to this connection only.
func (c *Client) Reject(code, message string) {
	metrics.ActionRejected(code)
	c.Send(models.WSFrame{Event: "game:rejected", Data: models.Rejection{Code: code, Message: message}})
}
