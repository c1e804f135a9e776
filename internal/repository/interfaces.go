package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/models"
)

// ErrDuplicateEmail is returned by UserRepository.Create when the email
// is already taken, compared case-insensitively.
var ErrDuplicateEmail = errors.New("email already registered")

// Every method takes ctx first: these all do I/O, and a cancelled request
// should cancel its query.
//
// Single-row reads return nil, nil when the row does not exist. Callers
// decide whether "missing" is an error.

// MessageRepository handles direct-message persistence.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, senderID, recipientID uuid.UUID, body string, replyToID *uuid.UUID) (*models.Message, error)

	// GetByID returns a single message. Returns nil, nil if not found.
	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// ListConversation returns messages exchanged between two users in
	// either direction, newest first. A zero before means "from the latest".
	ListConversation(ctx context.Context, userA, userB uuid.UUID, before time.Time, limit int) ([]models.Message, error)
}

// NotificationRepository handles the pull side of notifications.
type NotificationRepository interface {
	// Create persists a notification (unread) and returns it with ID and
	// CreatedAt populated.
	Create(ctx context.Context, recipientID, senderID uuid.UUID, message, kind string) (*models.Notification, error)

	// ListByRecipient returns a user's notifications, newest first.
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error)

	// MarkRead flips the read flag. Reports false if no notification with
	// that id belongs to the recipient.
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) (bool, error)
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)

	// GetByID returns a user by id. Returns nil, nil if not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail is used at login. Returns nil, nil if not found.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
