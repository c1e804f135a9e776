// Package relay sends direct messages: store first, then push to the
// recipient if they are connected.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/repository"
	"go.uber.org/zap"
)

// ErrInvalidMessage is returned before anything is stored, for input that
// could never be a message (empty text, messaging yourself, too long).
var ErrInvalidMessage = errors.New("invalid message")

// MaxTextLength caps a message body, in bytes.
const MaxTextLength = 4000

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Deliverer pushes events to a user's current connection, if any.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, evts ...events.Event) bool
}

// Result is what Send hands back: the stored message and whether the
// live push reached a connection.
type Result struct {
	Message   *models.Message
	Delivered bool
}

type Relay struct {
	messages  repository.MessageRepository
	deliverer Deliverer
	logger    *zap.Logger
}

func New(messages repository.MessageRepository, deliverer Deliverer, logger *zap.Logger) *Relay {
	return &Relay{messages: messages, deliverer: deliverer, logger: logger}
}

// Send persists the message and then, if the recipient is connected,
// pushes receiveMessage (full message, reply resolved) followed by
// newMessage (badge). The stored message is returned whatever happened to
// the push; only a failed write is an error, and nothing is pushed then.
func (r *Relay) Send(ctx context.Context, senderID, recipientID uuid.UUID, text string, replyToID *uuid.UUID) (*Result, error) {
	if err := validate(senderID, recipientID, text); err != nil {
		return nil, err
	}

	msg, err := r.messages.Create(ctx, senderID, recipientID, text, replyToID)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	// Presence is read after the write so the lookup is as fresh as it can
	// be when the push goes out.
	live := *msg
	live.ReplyTo = r.resolveReply(ctx, msg)

	delivered := r.deliverer.Deliver(ctx, recipientID,
		events.NewReceiveMessage(&live),
		events.NewNewMessage(&live),
	)

	r.logger.Debug("message relayed",
		zap.Stringer("message_id", msg.ID),
		zap.Stringer("sender_id", senderID),
		zap.Stringer("recipient_id", recipientID),
		zap.Bool("delivered", delivered),
	)
	return &Result{Message: msg, Delivered: delivered}, nil
}

// History is the pull path for a conversation, newest first.
func (r *Relay) History(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := r.messages.ListConversation(ctx, userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// resolveReply fetches the quoted message. Anything short of a clean hit
// (no reply, not found, lookup error, a message from another
// conversation) yields nil and the push goes out with replyTo: null.
func (r *Relay) resolveReply(ctx context.Context, msg *models.Message) *models.Message {
	if msg.ReplyToID == nil {
		return nil
	}
	quoted, err := r.messages.GetByID(ctx, *msg.ReplyToID)
	if err != nil {
		r.logger.Warn("resolve reply failed",
			zap.Stringer("message_id", msg.ID),
			zap.Stringer("reply_to_id", *msg.ReplyToID),
			zap.Error(err),
		)
		return nil
	}
	if quoted == nil || !samePair(quoted, msg) {
		return nil
	}
	return quoted
}

func samePair(a, b *models.Message) bool {
	return (a.SenderID == b.SenderID && a.RecipientID == b.RecipientID) ||
		(a.SenderID == b.RecipientID && a.RecipientID == b.SenderID)
}

func validate(senderID, recipientID uuid.UUID, text string) error {
	switch {
	case senderID == uuid.Nil || recipientID == uuid.Nil:
		return fmt.Errorf("%w: sender and recipient are required", ErrInvalidMessage)
	case senderID == recipientID:
		return fmt.Errorf("%w: cannot message yourself", ErrInvalidMessage)
	case strings.TrimSpace(text) == "":
		return fmt.Errorf("%w: text is empty", ErrInvalidMessage)
	case len(text) > MaxTextLength:
		return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidMessage, MaxTextLength)
	}
	return nil
}
