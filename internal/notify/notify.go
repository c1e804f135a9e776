// Package notify stores notifications and pushes them to recipients who
// are online. Storage always happens; the push is a bonus.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// Deliverer pushes events to a user's current connection, if any.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, evts ...events.Event) bool
}

// Result is the stored notification and whether a live push reached the
// recipient.
type Result struct {
	Notification *models.Notification
	Delivered    bool
}

type Fanout struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	deliverer     Deliverer
	logger        *zap.Logger
}

// New builds a Fanout. users is only consulted for the sender's display
// name in friend requests and may be nil.
func New(notifications repository.NotificationRepository, users repository.UserRepository, deliverer Deliverer, logger *zap.Logger) *Fanout {
	return &Fanout{
		notifications: notifications,
		users:         users,
		deliverer:     deliverer,
		logger:        logger,
	}
}

// Notify persists the notification, then pushes it if the recipient is
// connected. Friend requests go out as newFriendRequest, everything else
// as notification. A write failure is returned and nothing is pushed.
func (f *Fanout) Notify(ctx context.Context, recipientID, senderID uuid.UUID, message, kind string) (*Result, error) {
	if recipientID == uuid.Nil || strings.TrimSpace(message) == "" || kind == "" {
		return nil, fmt.Errorf("%w: recipient, message and type are required", ErrInvalidNotification)
	}

	n, err := f.notifications.Create(ctx, recipientID, senderID, message, kind)
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	delivered := f.deliverer.Deliver(ctx, recipientID, eventFor(n))
	f.logger.Debug("notification fanned out",
		zap.Stringer("notification_id", n.ID),
		zap.Stringer("recipient_id", recipientID),
		zap.String("type", kind),
		zap.Bool("delivered", delivered),
	)
	return &Result{Notification: n, Delivered: delivered}, nil
}

// FriendRequest notifies recipientID that senderID wants to connect.
func (f *Fanout) FriendRequest(ctx context.Context, senderID, recipientID uuid.UUID) (*Result, error) {
	if senderID == uuid.Nil || senderID == recipientID {
		return nil, fmt.Errorf("%w: cannot send a friend request to yourself", ErrInvalidNotification)
	}
	msg := fmt.Sprintf("%s sent you a friend request", f.displayName(ctx, senderID))
	return f.Notify(ctx, recipientID, senderID, msg, models.NotificationFriendRequest)
}

// MarkRead flips the read flag on one of the recipient's notifications.
func (f *Fanout) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) error {
	ok, err := f.notifications.MarkRead(ctx, recipientID, notificationID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

// List is the pull path for notifications, newest first.
func (f *Fanout) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	out, err := f.notifications.ListByRecipient(ctx, recipientID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (f *Fanout) displayName(ctx context.Context, userID uuid.UUID) string {
	if f.users == nil {
		return "Someone"
	}
	u, err := f.users.GetByID(ctx, userID)
	if err != nil {
		f.logger.Warn("sender lookup failed", zap.Stringer("user_id", userID), zap.Error(err))
		return "Someone"
	}
	if u == nil || u.DisplayName == "" {
		return "Someone"
	}
	return u.DisplayName
}

func eventFor(n *models.Notification) events.Event {
	if n.Type == models.NotificationFriendRequest {
		return events.Event{Type: events.NewFriendRequest, Payload: events.NewFriendRequestPayload{
			Sender:  n.SenderID,
			Message: n.Message,
		}}
	}
	return events.Event{Type: events.Notification, Payload: events.NotificationPayload{
		ID:        n.ID,
		Message:   n.Message,
		Type:      n.Type,
		Timestamp: n.CreatedAt,
	}}
}
