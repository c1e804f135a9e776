// Package events defines what travels over a client socket: event names
// and their payloads, in both directions.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/models"
)

// Inbound event names (client → server).
const (
	RegisterUser      = "registerUser"
	SendMessage       = "sendMessage"
	InitiateCall      = "initiateCall"
	CallAccepted      = "callAccepted"
	CallDeclined      = "callDeclined"
	CallEnded         = "callEnded"
	SendFriendRequest = "sendFriendRequest"
)

// Outbound event names (server → client). callAccepted, callDeclined and
// callEnded reuse the inbound names above.
const (
	UserStatus       = "userStatus"
	ReceiveMessage   = "receiveMessage"
	NewMessage       = "newMessage"
	IncomingCall     = "incomingCall"
	NewFriendRequest = "newFriendRequest"
	Notification     = "notification"
	Error            = "error"
)

// Event is one outbound push. Payload is marshalled as-is.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is the raw frame as it arrives from a client; Payload is
// decoded once the type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// --- inbound payloads ---

type RegisterUserPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type SendMessagePayload struct {
	Sender    uuid.UUID  `json:"sender"`
	Recipient uuid.UUID  `json:"recipient"`
	Text      string     `json:"text"`
	ReplyTo   *uuid.UUID `json:"replyTo,omitempty"`
}

type InitiateCallPayload struct {
	CallerID      uuid.UUID `json:"callerId"`
	RecipientID   uuid.UUID `json:"recipientId"`
	CallerName    string    `json:"callerName"`
	RecipientName string    `json:"recipientName"`
	IsVideo       bool      `json:"isVideo"`
}

// CallPartiesPayload covers callAccepted, callDeclined and callEnded in
// both directions. CallerName is only meaningful for callAccepted.
type CallPartiesPayload struct {
	CallerID    uuid.UUID `json:"callerId"`
	RecipientID uuid.UUID `json:"recipientId"`
	CallerName  string    `json:"callerName,omitempty"`
}

type SendFriendRequestPayload struct {
	Sender    uuid.UUID `json:"sender"`
	Recipient uuid.UUID `json:"recipient"`
}

// --- outbound payloads ---

type UserStatusPayload struct {
	UserID uuid.UUID `json:"userId"`
	Online bool      `json:"online"`
}

// ReplyRef is the resolved message a reply points at.
type ReplyRef struct {
	ID     uuid.UUID `json:"id"`
	Sender uuid.UUID `json:"sender"`
	Text   string    `json:"text"`
}

type ReceiveMessagePayload struct {
	ID        uuid.UUID `json:"id"`
	Sender    uuid.UUID `json:"sender"`
	Recipient uuid.UUID `json:"recipient"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *ReplyRef `json:"replyTo"`
}

type NewMessagePayload struct {
	Sender    uuid.UUID `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type IncomingCallPayload struct {
	CallerID      uuid.UUID `json:"callerId"`
	CallerName    string    `json:"callerName"`
	RecipientName string    `json:"recipientName"`
	IsVideo       bool      `json:"isVideo"`
	RecipientID   uuid.UUID `json:"recipientId"`
}

type CallEndedPayload struct{}

type NewFriendRequestPayload struct {
	Sender  uuid.UUID `json:"sender"`
	Message string    `json:"message"`
}

type NotificationPayload struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// --- constructors ---

func NewUserStatus(userID uuid.UUID, online bool) Event {
	return Event{Type: UserStatus, Payload: UserStatusPayload{UserID: userID, Online: online}}
}

// NewReceiveMessage builds the full delivery event. msg.ReplyTo, when the
// relay resolved it, becomes the nested reference.
func NewReceiveMessage(msg *models.Message) Event {
	p := ReceiveMessagePayload{
		ID:        msg.ID,
		Sender:    msg.SenderID,
		Recipient: msg.RecipientID,
		Text:      msg.Body,
		Timestamp: msg.CreatedAt,
	}
	if msg.ReplyTo != nil {
		p.ReplyTo = &ReplyRef{ID: msg.ReplyTo.ID, Sender: msg.ReplyTo.SenderID, Text: msg.ReplyTo.Body}
	}
	return Event{Type: ReceiveMessage, Payload: p}
}

func NewNewMessage(msg *models.Message) Event {
	return Event{Type: NewMessage, Payload: NewMessagePayload{
		Sender:    msg.SenderID,
		Text:      msg.Body,
		Timestamp: msg.CreatedAt,
	}}
}

func NewError(event, message string) Event {
	return Event{Type: Error, Payload: ErrorPayload{Event: event, Message: message}}
}
