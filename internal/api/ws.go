package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/middleware"
)

// SocketServer takes over an authenticated request and runs the socket.
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
}

type SocketHandler struct {
	sockets SocketServer
}

func NewSocketHandler(sockets SocketServer) *SocketHandler {
	return &SocketHandler{sockets: sockets}
}

// Connect handles GET /v1/ws?token=<jwt>
//
// The socket is bound to the token's user for its whole life. Serve blocks
// until the socket closes.
func (h *SocketHandler) Connect(c *gin.Context) {
	h.sockets.Serve(c.Writer, c.Request, middleware.GetUserID(c))
}
