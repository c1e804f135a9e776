package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echolink/internal/events"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one live socket. Reads happen on the readPump goroutine,
// writes only on writePump; everything else hands frames to writePump
// through the send buffer.
type Client struct {
	id     string
	userID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, logger *zap.Logger) *Client {
	id := hub.NewConnID()
	return &Client{
		id:     id,
		userID: userID,
		hub:    hub,
		conn:   conn,
		logger: logger.With(zap.String("conn_id", id), zap.Stringer("user_id", userID)),
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID is the connection id the presence registry binds to.
func (c *Client) ID() string { return c.id }

// UserID is the authenticated user behind the socket.
func (c *Client) UserID() uuid.UUID { return c.userID }

// Reply sends an event straight back on this socket.
func (c *Client) Reply(evt events.Event) error {
	frame, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// close signals both pumps to stop. The socket itself belongs to
// writePump, which sends the close frame before tearing the connection
// down; closing it here would race that frame.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Handler receives every decoded inbound frame.
type Handler interface {
	Handle(ctx context.Context, peer Peer, env events.Envelope)
}

// readPump runs until the socket fails or the hub closes it. A hub close
// unblocks the pending read once writePump has closed the connection.
func (c *Client) readPump(ctx context.Context, handler Handler) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("socket read failed", zap.Error(err))
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			_ = c.Reply(events.NewError("", "malformed frame"))
			continue
		}
		handler.Handle(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
