// Package memory holds in-process repository implementations. They back
// STORE_BACKEND=memory for single-node dev runs and stand in for Postgres
// in tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/lalith-99/echolink/internal/repository"
)

// ErrUnavailable is what a store returns after Fail has been switched on.
var ErrUnavailable = errors.New("store unavailable")

// clock is overridable so tests can get strictly increasing timestamps.
type clock func() time.Time

type failSwitch struct {
	mu   sync.RWMutex
	fail bool
}

// Fail makes every subsequent call return ErrUnavailable until it is
// switched off again.
func (f *failSwitch) Fail(on bool) {
	f.mu.Lock()
	f.fail = on
	f.mu.Unlock()
}

func (f *failSwitch) failing() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fail
}

type MessageStore struct {
	failSwitch
	now clock

	mu       sync.RWMutex
	messages []models.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{now: monotonicClock()}
}

func (s *MessageStore) Create(ctx context.Context, senderID, recipientID uuid.UUID, body string, replyToID *uuid.UUID) (*models.Message, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	msg := models.Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		ReplyToID:   replyToID,
		CreatedAt:   s.now(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return &msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			msg := s.messages[i]
			return &msg, nil
		}
	}
	return nil, nil
}

func (s *MessageStore) ListConversation(ctx context.Context, userA, userB uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0)
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		inPair := (m.SenderID == userA && m.RecipientID == userB) ||
			(m.SenderID == userB && m.RecipientID == userA)
		if !inPair {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len is a test helper: how many messages have been stored.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

type NotificationStore struct {
	failSwitch
	now clock

	mu   sync.RWMutex
	byID map[uuid.UUID]*models.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		now:  monotonicClock(),
		byID: make(map[uuid.UUID]*models.Notification),
	}
}

func (s *NotificationStore) Create(ctx context.Context, recipientID, senderID uuid.UUID, message, kind string) (*models.Notification, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	n := &models.Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		SenderID:    senderID,
		Message:     message,
		Type:        kind,
		CreatedAt:   s.now(),
	}
	s.mu.Lock()
	s.byID[n.ID] = n
	s.mu.Unlock()

	out := *n
	return &out, nil
}

func (s *NotificationStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	out := make([]models.Notification, 0)
	for _, n := range s.byID {
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *NotificationStore) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) (bool, error) {
	if s.failing() {
		return false, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[notificationID]
	if !ok || n.RecipientID != recipientID {
		return false, nil
	}
	n.IsRead = true
	return true, nil
}

type UserStore struct {
	failSwitch
	now clock

	mu   sync.RWMutex
	byID map[uuid.UUID]*models.User
}

func NewUserStore() *UserStore {
	return &UserStore{
		now:  monotonicClock(),
		byID: make(map[uuid.UUID]*models.User),
	}
}

func (s *UserStore) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Email, email) {
			return nil, repository.ErrDuplicateEmail
		}
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.byID[u.ID] = u
	out := *u
	return &out, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.failing() {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

// monotonicClock returns wall time, nudged forward so two calls never
// return the same instant. Cursor pagination on created_at relies on it.
func monotonicClock() clock {
	var mu sync.Mutex
	var last time.Time
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now().UTC()
		if !now.After(last) {
			now = last.Add(time.Microsecond)
		}
		last = now
		return now
	}
}
