package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/middleware"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/push"
	"github.com/lalith-99/echolink/internal/relay"
	"go.uber.org/zap"
)

// MessageService is the slice of relay.Relay the handlers use.
type MessageService interface {
	Send(ctx context.Context, senderID, recipientID uuid.UUID, text string, replyToID *uuid.UUID) (*relay.Result, error)
	History(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]models.Message, error)
}

// OfflinePusher receives the device push for anything that missed a socket.
type OfflinePusher interface {
	Dispatch(ctx context.Context, n push.Notification)
}

type MessageHandler struct {
	messages MessageService
	offline  OfflinePusher
	logger   *zap.Logger
}

// NewMessageHandler builds the handler. offline may be nil.
func NewMessageHandler(messages MessageService, offline OfflinePusher, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, offline: offline, logger: logger}
}

type sendMessageRequest struct {
	RecipientID uuid.UUID  `json:"recipient_id" binding:"required"`
	Text        string     `json:"text" binding:"required"`
	ReplyToID   *uuid.UUID `json:"reply_to_id"`
}

type sendMessageResponse struct {
	Message   *models.Message `json:"message"`
	Delivered bool            `json:"delivered"`
}

// Send handles POST /v1/messages
//
// The message is stored whether or not the recipient is online; the 201
// means "stored", and delivered says whether a socket got it too.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	senderID := middleware.GetUserID(c)

	res, err := h.messages.Send(c.Request.Context(), senderID, req.RecipientID, req.Text, req.ReplyToID)
	if errors.Is(err, relay.ErrInvalidMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to send message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	if !res.Delivered && h.offline != nil {
		h.offline.Dispatch(c.Request.Context(), push.ForMessage(req.RecipientID, senderID, res.Message.ID, req.Text))
	}
	c.JSON(http.StatusCreated, sendMessageResponse{Message: res.Message, Delivered: res.Delivered})
}

// History handles GET /v1/conversations/:peer/messages?before=<RFC3339>&limit=50
//
// Cursor pagination on created_at, newest first. Pass the created_at of
// the oldest message you have as "before" to get the next page.
func (h *MessageHandler) History(c *gin.Context) {
	peerID, err := uuid.Parse(c.Param("peer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer ID"})
		return
	}

	var before time.Time
	if b := c.Query("before"); b != "" {
		before, err = time.Parse(time.RFC3339Nano, b)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
	}

	msgs, err := h.messages.History(c.Request.Context(), middleware.GetUserID(c), peerID, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
