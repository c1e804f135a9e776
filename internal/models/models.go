package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account. Its identity is stable; whether it is reachable
// right now is tracked separately by the presence registry and never
// stored on this row.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is a direct message between two users. Immutable once stored.
//
// ReplyToID points at an earlier message in the same conversation.
// ReplyTo is only filled in when the relay resolves the reference for a
// live push; it is not a column.
type Message struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	Body        string     `json:"text"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty"`
	ReplyTo     *Message   `json:"reply_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Notification types.
const (
	NotificationFriendRequest = "friend_request"
	NotificationMessage       = "message"
	NotificationSystem        = "system"
)

// Notification is a persisted, pull-readable alert. Status is a plain
// read flag flipped by an explicit mark-as-read call, independent of
// whether a realtime push ever reached the recipient.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// PresenceStatus is the answer to "is this user reachable right now".
type PresenceStatus struct {
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
}
