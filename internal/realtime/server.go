package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is what the server needs from the inbound side: frame handling
// plus a hook for when a socket goes away.
type Session interface {
	Handler
	Disconnected(ctx context.Context, peer Peer)
}

// Server upgrades authenticated HTTP requests to sockets and runs their
// pumps.
type Server struct {
	hub      *Hub
	session  Session
	upgrader websocket.Upgrader
	logger   *zap.Logger

	active sync.WaitGroup
}

// NewServer builds a Server. checkOrigin may be nil to accept any origin.
func NewServer(hub *Hub, session Session, checkOrigin func(*http.Request) bool, logger *zap.Logger) *Server {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		hub:     hub,
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Serve upgrades the request and blocks until the socket closes. The caller
// has already authenticated userID. The socket receives nothing addressed
// to its user until it sends registerUser.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.active.Add(1)
	defer s.active.Done()

	c := newClient(s.hub, conn, userID, s.logger)
	if err := s.hub.add(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	c.logger.Info("socket connected")

	// Unregister has to run even while the server is shutting down.
	ctx := context.WithoutCancel(r.Context())

	go c.writePump()
	c.readPump(ctx, s.session)

	s.hub.remove(c)
	s.session.Disconnected(ctx, c)
	c.logger.Info("socket disconnected")
}

// Shutdown closes the hub and waits for every socket's disconnect handling
// to finish, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
