// Package signaling routes call control events between two users.
//
// There is no session object on the server. A call is only the pair of
// user ids carried in each event, and every event is routed by looking up
// the other party's connection at the moment it arrives:
//
//	IDLE    --Initiate--> RINGING   incomingCall  -> recipient
//	RINGING --Accept----> ACTIVE    callAccepted  -> caller
//	RINGING --Decline---> IDLE      callDeclined  -> caller
//	ACTIVE  --End-------> IDLE      callEnded     -> caller and recipient
//
// Nothing here rejects a duplicate or out-of-order event, and nothing
// times out a call that rings forever; clients own both.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"go.uber.org/zap"
)

// ErrInvalidCall is returned for a call event that names no one, or the
// same user on both ends.
var ErrInvalidCall = errors.New("invalid call")

// Deliverer pushes events to a user's current connection, if any.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, evts ...events.Event) bool
}

// Call identifies one call attempt by its two parties.
type Call struct {
	CallerID      uuid.UUID
	RecipientID   uuid.UUID
	CallerName    string
	RecipientName string
	IsVideo       bool
}

func (c Call) validate() error {
	if c.CallerID == uuid.Nil || c.RecipientID == uuid.Nil {
		return fmt.Errorf("%w: caller and recipient are required", ErrInvalidCall)
	}
	if c.CallerID == c.RecipientID {
		return fmt.Errorf("%w: caller and recipient are the same user", ErrInvalidCall)
	}
	return nil
}

type Signaler struct {
	deliverer Deliverer
	logger    *zap.Logger
}

func New(deliverer Deliverer, logger *zap.Logger) *Signaler {
	return &Signaler{deliverer: deliverer, logger: logger}
}

// Initiate rings the recipient. It returns how many connections got the
// event (0 or 1); an unreachable recipient is not an error and the caller
// hears nothing back.
func (s *Signaler) Initiate(ctx context.Context, call Call) (int, error) {
	if err := call.validate(); err != nil {
		return 0, err
	}
	evt := events.Event{Type: events.IncomingCall, Payload: events.IncomingCallPayload{
		CallerID:      call.CallerID,
		CallerName:    call.CallerName,
		RecipientName: call.RecipientName,
		IsVideo:       call.IsVideo,
		RecipientID:   call.RecipientID,
	}}
	n := s.deliver(ctx, call.RecipientID, evt)
	s.log("call initiated", call, n)
	return n, nil
}

// Accept tells the caller the recipient picked up. Repeating it pushes
// again.
func (s *Signaler) Accept(ctx context.Context, call Call) (int, error) {
	if err := call.validate(); err != nil {
		return 0, err
	}
	evt := events.Event{Type: events.CallAccepted, Payload: events.CallPartiesPayload{
		CallerID:    call.CallerID,
		RecipientID: call.RecipientID,
		CallerName:  call.CallerName,
	}}
	n := s.deliver(ctx, call.CallerID, evt)
	s.log("call accepted", call, n)
	return n, nil
}

// Decline tells the caller the recipient turned the call down.
func (s *Signaler) Decline(ctx context.Context, call Call) (int, error) {
	if err := call.validate(); err != nil {
		return 0, err
	}
	evt := events.Event{Type: events.CallDeclined, Payload: events.CallPartiesPayload{
		CallerID:    call.CallerID,
		RecipientID: call.RecipientID,
	}}
	n := s.deliver(ctx, call.CallerID, evt)
	s.log("call declined", call, n)
	return n, nil
}

// End tells both parties the call is over. Either may be absent; the
// return value counts who was reached (0, 1 or 2).
func (s *Signaler) End(ctx context.Context, call Call) (int, error) {
	if err := call.validate(); err != nil {
		return 0, err
	}
	evt := events.Event{Type: events.CallEnded, Payload: events.CallEndedPayload{}}
	n := s.deliver(ctx, call.CallerID, evt) + s.deliver(ctx, call.RecipientID, evt)
	s.log("call ended", call, n)
	return n, nil
}

func (s *Signaler) deliver(ctx context.Context, userID uuid.UUID, evt events.Event) int {
	if s.deliverer.Deliver(ctx, userID, evt) {
		return 1
	}
	return 0
}

func (s *Signaler) log(msg string, call Call, delivered int) {
	s.logger.Debug(msg,
		zap.Stringer("caller_id", call.CallerID),
		zap.Stringer("recipient_id", call.RecipientID),
		zap.Bool("video", call.IsVideo),
		zap.Int("delivered", delivered),
	)
}
