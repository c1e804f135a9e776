package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store holds user → connection bindings. At most one connection per
// user; a second Bind for the same user replaces the first.
//
// Unbind is keyed by connection, not user: it removes the binding only if
// the user is still bound to that exact connection. A late disconnect from
// an old socket must never evict a newer one.
type Store interface {
	Bind(ctx context.Context, userID uuid.UUID, connID string) error
	Lookup(ctx context.Context, userID uuid.UUID) (connID string, ok bool, err error)
	Unbind(ctx context.Context, connID string) (userID uuid.UUID, ok bool, err error)
	Online(ctx context.Context) ([]uuid.UUID, error)
}

// MemoryStore is the single-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	bindings map[uuid.UUID]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[uuid.UUID]string)}
}

func (s *MemoryStore) Bind(_ context.Context, userID uuid.UUID, connID string) error {
	s.mu.Lock()
	s.bindings[userID] = connID
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, userID uuid.UUID) (string, bool, error) {
	s.mu.RLock()
	connID, ok := s.bindings[userID]
	s.mu.RUnlock()
	return connID, ok, nil
}

// Unbind scans by value. The map is keyed by user, and connection ids are
// unique, so at most one entry can match.
func (s *MemoryStore) Unbind(_ context.Context, connID string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, bound := range s.bindings {
		if bound == connID {
			delete(s.bindings, userID)
			return userID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (s *MemoryStore) Online(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.bindings))
	for userID := range s.bindings {
		out = append(out, userID)
	}
	return out, nil
}
