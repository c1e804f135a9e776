package presence

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"go.uber.org/zap"
)

// Pusher writes one event to one connection. Implementations are
// best-effort: no acknowledgement, no retry.
type Pusher interface {
	Push(ctx context.Context, connID string, evt events.Event) error
}

// Locator resolves a user to their current connection.
type Locator interface {
	Lookup(ctx context.Context, userID uuid.UUID) (string, bool)
}

// Router is the "look up, then push" step every realtime feature shares.
type Router struct {
	locator Locator
	pusher  Pusher
	logger  *zap.Logger
}

func NewRouter(locator Locator, pusher Pusher, logger *zap.Logger) *Router {
	return &Router{locator: locator, pusher: pusher, logger: logger}
}

// Deliver looks userID up once and pushes evts, in order, to the
// connection found. It reports whether the user was present and the
// first push went through. A push that fails after a successful lookup
// (the socket died in between) is logged and reported exactly like
// absence.
func (r *Router) Deliver(ctx context.Context, userID uuid.UUID, evts ...events.Event) bool {
	connID, ok := r.locator.Lookup(ctx, userID)
	if !ok {
		return false
	}
	delivered := false
	for i, evt := range evts {
		if err := r.pusher.Push(ctx, connID, evt); err != nil {
			r.logger.Debug("push failed",
				zap.Stringer("user_id", userID),
				zap.String("conn_id", connID),
				zap.String("event", evt.Type),
				zap.Error(err),
			)
			continue
		}
		if i == 0 {
			delivered = true
		}
	}
	return delivered
}
