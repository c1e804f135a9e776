// Package realtime is the WebSocket side of the server: it owns live
// client connections, turns inbound frames into calls on the presence,
// relay, signaling and notify packages, and writes their pushes back out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"go.uber.org/zap"
)

var (
	// ErrConnNotFound means the target connection is gone, or lives on a
	// node we can't reach. Callers treat it like an absent user.
	ErrConnNotFound = errors.New("connection not found")

	// ErrSendBufferFull means the client isn't draining its socket fast
	// enough. The event is dropped.
	ErrSendBufferFull = errors.New("send buffer full")

	ErrConnClosed = errors.New("connection closed")
	ErrHubClosed  = errors.New("hub closed")
)

// Bridge carries pushes and broadcasts to other server processes. A
// single-node deployment runs without one.
type Bridge interface {
	Forward(ctx context.Context, nodeID, connID string, frame []byte) error
	Broadcast(ctx context.Context, frame []byte) error
}

// Hub tracks this process's connections. Connection ids are
// "<nodeID>.<uuid>" so any process can tell which node owns a socket.
type Hub struct {
	nodeID string
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	bridge  Bridge
	closed  bool
}

func NewHub(nodeID string, logger *zap.Logger) *Hub {
	if nodeID == "" {
		nodeID = uuid.NewString()[:8]
	}
	return &Hub{
		nodeID:  nodeID,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

func (h *Hub) NodeID() string { return h.nodeID }

// SetBridge attaches the cross-node transport. Call before serving.
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	h.bridge = b
	h.mu.Unlock()
}

// NewConnID hands out a connection id that is never reused.
//
// The id is "<nodeID>.<uuid>". Why put the node in the id?
//   - The shared presence store only maps a user to a connection id. The
//     node prefix is what tells Push whether the socket is local or which
//     node's channel to forward to, with no second lookup.
//   - A fresh uuid per socket means a reconnect never reuses an id, so an
//     Unbind from the dead socket can't match the new binding.
func (h *Hub) NewConnID() string {
	return h.nodeID + "." + uuid.NewString()
}

// nodeOf returns the node prefix of a connection id.
//
// The suffix is a uuid, which never contains a dot, so the split is on the
// last dot. Node ids are free to be dotted hostnames ("pod.a",
// "echolink-0.echolink.svc").
func nodeOf(connID string) string {
	i := strings.LastIndex(connID, ".")
	if i <= 0 {
		return ""
	}
	return connID[:i]
}

func (h *Hub) add(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c.id] = c
	return nil
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

func (h *Hub) client(connID string) (*Client, bool) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	return c, ok
}

// Count is the number of live local connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Push writes evt to one connection, local or, through the bridge, on
// another node. Best-effort: there is no acknowledgement.
func (h *Hub) Push(ctx context.Context, connID string, evt events.Event) error {
	frame, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	return h.pushFrame(ctx, connID, frame)
}

func (h *Hub) pushFrame(ctx context.Context, connID string, frame []byte) error {
	if c, ok := h.client(connID); ok {
		return c.enqueue(frame)
	}

	node := nodeOf(connID)
	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge == nil || node == "" || node == h.nodeID {
		return ErrConnNotFound
	}
	if err := bridge.Forward(ctx, node, connID, frame); err != nil {
		return fmt.Errorf("forward to %s: %w", node, err)
	}
	return nil
}

// Broadcast writes evt to every local connection and, with a bridge, to
// every other node's connections.
func (h *Hub) Broadcast(ctx context.Context, evt events.Event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", evt.Type), zap.Error(err))
		return
	}
	h.broadcastLocal(frame)

	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge != nil {
		if err := bridge.Broadcast(ctx, frame); err != nil {
			h.logger.Warn("bridge broadcast failed", zap.String("event", evt.Type), zap.Error(err))
		}
	}
}

// deliverLocal is the bridge's entry point for frames addressed to one of
// our connections.
func (h *Hub) deliverLocal(connID string, frame []byte) error {
	c, ok := h.client(connID)
	if !ok {
		return ErrConnNotFound
	}
	return c.enqueue(frame)
}

func (h *Hub) broadcastLocal(frame []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.enqueue(frame); err != nil {
			h.logger.Debug("broadcast skipped client", zap.String("conn_id", c.id), zap.Error(err))
		}
	}
}

// Close disconnects every client and refuses new ones. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("hub closed", zap.Int("clients", len(clients)))
}
