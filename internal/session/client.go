package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"openideax/collab/internal/metrics"
	"openideax/collab/internal/models"
)

const (
	DefaultSendBuffer = 256

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 << 10
)

// Client is one live transport connection. Sends never block: frames go
// into a bounded queue drained by WritePump and are dropped when it is full.
type Client struct {
	ID   string
	Conn *websocket.Conn

	mu     sync.Mutex
	out    chan models.WSFrame
	hook   func(models.WSFrame)
	closed bool
}

func NewClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		out:  make(chan models.WSFrame, buffer),
	}
}

// SetSendHook replaces the outbound queue (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues a frame and reports whether it was accepted.
func (c *Client) Send(frame models.WSFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.hook != nil {
		c.hook(frame)
		return true
	}
	select {
	case c.out <- frame:
		return true
	default:
		metrics.FramesDropped.Inc()
		return false
	}
}

// Close is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()

	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WritePump is the only writer on the socket. It returns once the queue is
// closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.out:
			if c.Conn == nil {
				if !ok {
					return
				}
				continue
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := c.Conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			if c.Conn == nil {
				continue
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump hands every inbound data frame to fn until the socket fails.
func (c *Client) ReadPump(fn func([]byte)) error {
	c.Conn.SetReadLimit(maxFrameSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		fn(data)
	}
}
