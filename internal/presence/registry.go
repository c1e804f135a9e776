// Package presence tracks which logical user owns which live connection.
// It is the only shared mutable state in the realtime core; everything
// else reads it to decide whether a push can happen.
package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"go.uber.org/zap"
)

// Broadcaster fans an event out to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt events.Event)
}

// Registry is the presence registry: register, lookup, unregister, with a
// userStatus broadcast on every change.
type Registry struct {
	store       Store
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewRegistry wires a Store to a Broadcaster. broadcaster may be nil, in
// which case status changes are not announced.
func NewRegistry(store Store, broadcaster Broadcaster, logger *zap.Logger) *Registry {
	return &Registry{store: store, broadcaster: broadcaster, logger: logger}
}

// Register binds userID to connID, replacing any previous binding, and
// announces the user as online.
func (r *Registry) Register(ctx context.Context, userID uuid.UUID, connID string) error {
	if err := r.store.Bind(ctx, userID, connID); err != nil {
		return fmt.Errorf("register %s: %w", userID, err)
	}
	r.logger.Debug("user registered",
		zap.Stringer("user_id", userID),
		zap.String("conn_id", connID),
	)
	r.broadcast(ctx, events.NewUserStatus(userID, true))
	return nil
}

// Lookup returns the user's current connection. A store error is logged
// and reported as absent: an unreachable target is the normal case for
// every caller, not a failure.
func (r *Registry) Lookup(ctx context.Context, userID uuid.UUID) (string, bool) {
	connID, ok, err := r.store.Lookup(ctx, userID)
	if err != nil {
		r.logger.Warn("presence lookup failed",
			zap.Stringer("user_id", userID),
			zap.Error(err),
		)
		return "", false
	}
	return connID, ok
}

// IsOnline is Lookup without the connection id.
func (r *Registry) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	_, ok := r.Lookup(ctx, userID)
	return ok
}

// Unregister removes the binding that points at connID, if there still is
// one, and announces the user as offline. A connection that never
// registered, or was already superseded, is a silent no-op.
func (r *Registry) Unregister(ctx context.Context, connID string) error {
	userID, ok, err := r.store.Unbind(ctx, connID)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", connID, err)
	}
	if !ok {
		return nil
	}
	r.logger.Debug("user unregistered",
		zap.Stringer("user_id", userID),
		zap.String("conn_id", connID),
	)
	r.broadcast(ctx, events.NewUserStatus(userID, false))
	return nil
}

// Online lists every user with a live binding.
func (r *Registry) Online(ctx context.Context) ([]uuid.UUID, error) {
	return r.store.Online(ctx)
}

func (r *Registry) broadcast(ctx context.Context, evt events.Event) {
	if r.broadcaster == nil {
		return
	}
	r.broadcaster.Broadcast(ctx, evt)
}
