package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"github.com/lalith-99/echolink/internal/notify"
	"github.com/lalith-99/echolink/internal/push"
	"github.com/lalith-99/echolink/internal/relay"
	"github.com/lalith-99/echolink/internal/signaling"
	"go.uber.org/zap"
)

// Peer is the sending side of an inbound frame.
type Peer interface {
	ID() string
	UserID() uuid.UUID
	Reply(evt events.Event) error
}

type Registrar interface {
	Register(ctx context.Context, userID uuid.UUID, connID string) error
	Unregister(ctx context.Context, connID string) error
}

type MessageSender interface {
	Send(ctx context.Context, senderID, recipientID uuid.UUID, text string, replyToID *uuid.UUID) (*relay.Result, error)
}

type CallSignaler interface {
	Initiate(ctx context.Context, call signaling.Call) (int, error)
	Accept(ctx context.Context, call signaling.Call) (int, error)
	Decline(ctx context.Context, call signaling.Call) (int, error)
	End(ctx context.Context, call signaling.Call) (int, error)
}

type FriendRequester interface {
	FriendRequest(ctx context.Context, senderID, recipientID uuid.UUID) (*notify.Result, error)
}

type OfflinePusher interface {
	Dispatch(ctx context.Context, n push.Notification)
}

// Dispatcher routes inbound frames to the core services.
//
// Every frame must name the socket's authenticated user in the role that
// user is acting in, such as the message sender or the callee who answers.
// Anything else is refused with an error event.
//
// Why check ids the payload already carries?
//   - The wire format names the sender in every payload, and clients fill
//     it in. Trusting it would let any logged-in socket register as
//     another user and read their traffic, or send messages in their name.
//   - The token has already been verified at the upgrade, so the socket's
//     user is the one identity the server knows to be true. Payload ids
//     are only accepted when they agree with it.
//   - callEnded is the one event either party may send, since both sides
//     can hang up.
type Dispatcher struct {
	registry Registrar
	messages MessageSender
	calls    CallSignaler
	friends  FriendRequester
	offline  OfflinePusher
	logger   *zap.Logger
}

// NewDispatcher wires the services. offline may be nil.
func NewDispatcher(registry Registrar, messages MessageSender, calls CallSignaler, friends FriendRequester, offline OfflinePusher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		messages: messages,
		calls:    calls,
		friends:  friends,
		offline:  offline,
		logger:   logger,
	}
}

var (
	errNotYou       = errors.New("payload identity does not match the authenticated user")
	errBadPayload   = errors.New("malformed payload")
	errUnknownEvent = errors.New("unknown event type")
)

func decode(env events.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func (d *Dispatcher) Handle(ctx context.Context, peer Peer, env events.Envelope) {
	var err error
	switch env.Type {
	case events.RegisterUser:
		err = d.registerUser(ctx, peer, env)
	case events.SendMessage:
		err = d.sendMessage(ctx, peer, env)
	case events.InitiateCall:
		err = d.initiateCall(ctx, peer, env)
	case events.CallAccepted, events.CallDeclined, events.CallEnded:
		err = d.callEvent(ctx, peer, env)
	case events.SendFriendRequest:
		err = d.sendFriendRequest(ctx, peer, env)
	default:
		err = errUnknownEvent
	}
	if err == nil {
		return
	}

	d.logger.Debug("inbound event rejected",
		zap.String("conn_id", peer.ID()),
		zap.String("event", env.Type),
		zap.Error(err),
	)
	if rerr := peer.Reply(events.NewError(env.Type, clientMessage(err))); rerr != nil {
		d.logger.Debug("error reply dropped", zap.String("conn_id", peer.ID()), zap.Error(rerr))
	}
}

// Disconnected is called once per socket when it goes away.
func (d *Dispatcher) Disconnected(ctx context.Context, peer Peer) {
	if err := d.registry.Unregister(ctx, peer.ID()); err != nil {
		d.logger.Warn("unregister failed", zap.String("conn_id", peer.ID()), zap.Error(err))
	}
}

func (d *Dispatcher) registerUser(ctx context.Context, peer Peer, env events.Envelope) error {
	var p events.RegisterUserPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.UserID != peer.UserID() {
		return errNotYou
	}
	return d.registry.Register(ctx, p.UserID, peer.ID())
}

func (d *Dispatcher) sendMessage(ctx context.Context, peer Peer, env events.Envelope) error {
	var p events.SendMessagePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.Sender != peer.UserID() {
		return errNotYou
	}
	res, err := d.messages.Send(ctx, p.Sender, p.Recipient, p.Text, p.ReplyTo)
	if err != nil {
		return err
	}
	if !res.Delivered && d.offline != nil {
		d.offline.Dispatch(ctx, push.ForMessage(p.Recipient, p.Sender, res.Message.ID, p.Text))
	}
	return nil
}

func (d *Dispatcher) initiateCall(ctx context.Context, peer Peer, env events.Envelope) error {
	var p events.InitiateCallPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.CallerID != peer.UserID() {
		return errNotYou
	}
	_, err := d.calls.Initiate(ctx, signaling.Call{
		CallerID:      p.CallerID,
		RecipientID:   p.RecipientID,
		CallerName:    p.CallerName,
		RecipientName: p.RecipientName,
		IsVideo:       p.IsVideo,
	})
	return err
}

func (d *Dispatcher) callEvent(ctx context.Context, peer Peer, env events.Envelope) error {
	var p events.CallPartiesPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	call := signaling.Call{CallerID: p.CallerID, RecipientID: p.RecipientID, CallerName: p.CallerName}
	me := peer.UserID()

	var err error
	switch env.Type {
	case events.CallAccepted:
		if p.RecipientID != me {
			return errNotYou
		}
		_, err = d.calls.Accept(ctx, call)
	case events.CallDeclined:
		if p.RecipientID != me {
			return errNotYou
		}
		_, err = d.calls.Decline(ctx, call)
	case events.CallEnded:
		if p.CallerID != me && p.RecipientID != me {
			return errNotYou
		}
		_, err = d.calls.End(ctx, call)
	}
	return err
}

func (d *Dispatcher) sendFriendRequest(ctx context.Context, peer Peer, env events.Envelope) error {
	var p events.SendFriendRequestPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.Sender != peer.UserID() {
		return errNotYou
	}
	res, err := d.friends.FriendRequest(ctx, p.Sender, p.Recipient)
	if err != nil {
		return err
	}
	if !res.Delivered && d.offline != nil {
		n := res.Notification
		d.offline.Dispatch(ctx, push.ForNotification(n.RecipientID, n.SenderID, n.Message, n.Type))
	}
	return nil
}

// clientMessage keeps storage and transport details off the wire.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, errNotYou),
		errors.Is(err, relay.ErrInvalidMessage),
		errors.Is(err, signaling.ErrInvalidCall),
		errors.Is(err, notify.ErrInvalidNotification),
		errors.Is(err, errUnknownEvent):
		return err.Error()
	case errors.Is(err, errBadPayload):
		return errBadPayload.Error()
	}
	return "internal error"
}
