package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/middleware"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/notify"
	"github.com/lalith-99/echolink/internal/push"
	"go.uber.org/zap"
)

// NotificationService is the slice of notify.Fanout the handlers use.
type NotificationService interface {
	FriendRequest(ctx context.Context, senderID, recipientID uuid.UUID) (*notify.Result, error)
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error
	List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error)
}

type NotificationHandler struct {
	notifications NotificationService
	offline       OfflinePusher
	logger        *zap.Logger
}

// NewNotificationHandler builds the handler. offline may be nil.
func NewNotificationHandler(notifications NotificationService, offline OfflinePusher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, offline: offline, logger: logger}
}

// List handles GET /v1/notifications?unread=true
func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"

	list, err := h.notifications.List(c.Request.Context(), middleware.GetUserID(c), unreadOnly)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	if list == nil {
		list = []models.Notification{}
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// MarkRead handles POST /v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification ID"})
		return
	}

	err = h.notifications.MarkRead(c.Request.Context(), middleware.GetUserID(c), id)
	if errors.Is(err, notify.ErrNotificationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to mark notification read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark notification read"})
		return
	}

	c.Status(http.StatusNoContent)
}

type friendRequestRequest struct {
	RecipientID uuid.UUID `json:"recipient_id" binding:"required"`
}

// SendFriendRequest handles POST /v1/friend-requests
func (h *NotificationHandler) SendFriendRequest(c *gin.Context) {
	var req friendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.notifications.FriendRequest(c.Request.Context(), middleware.GetUserID(c), req.RecipientID)
	if errors.Is(err, notify.ErrInvalidNotification) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to send friend request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send friend request"})
		return
	}

	if !res.Delivered && h.offline != nil {
		n := res.Notification
		h.offline.Dispatch(c.Request.Context(), push.ForNotification(n.RecipientID, n.SenderID, n.Message, n.Type))
	}
	c.JSON(http.StatusCreated, gin.H{"notification": res.Notification, "delivered": res.Delivered})
}
