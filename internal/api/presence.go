package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/models"
	"go.uber.org/zap"
)

// PresenceChecker is the read side of presence.Registry.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID uuid.UUID) bool
	Online(ctx context.Context) ([]uuid.UUID, error)
}

type PresenceHandler struct {
	presence PresenceChecker
	logger   *zap.Logger
}

func NewPresenceHandler(presence PresenceChecker, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, logger: logger}
}

// Get handles GET /v1/users/:id/presence
func (h *PresenceHandler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return
	}
	c.JSON(http.StatusOK, models.PresenceStatus{
		UserID: userID,
		Online: h.presence.IsOnline(c.Request.Context(), userID),
	})
}

// ListOnline handles GET /v1/presence/online
//
// Lists every user with a live socket binding, across all nodes when the
// presence store is shared. The order is unspecified.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	online, err := h.presence.Online(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list online users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list online users"})
		return
	}
	if online == nil {
		online = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"users": online})
}
