// Package push hands off device push notifications for users who were not
// reachable over a socket. Delivery itself belongs to an external worker
// or provider; this side is fire-and-forget.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification is one device push.
type Notification struct {
	UserID uuid.UUID         `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sent_at"`
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender only logs. It is the default when no push provider is wired.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("push notification",
		zap.Stringer("user_id", n.UserID),
		zap.String("title", n.Title),
	)
	return nil
}

// QueueSender appends pushes to a Redis list for an external delivery
// worker to BRPOP.
type QueueSender struct {
	client *redis.Client
	key    string
}

func NewQueueSender(client *redis.Client, key string) *QueueSender {
	if key == "" {
		key = "push:queue"
	}
	return &QueueSender{client: client, key: key}
}

func (s *QueueSender) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}
	return nil
}

// Dispatcher sends pushes in the background. Errors are logged and never
// reach the caller. Wait drains the sends still in flight, so a shutdown
// can let them finish before the Redis client goes away.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	inflight sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger, timeout: 5 * time.Second, now: time.Now}
}

// Dispatch returns immediately. The send outlives the request that
// triggered it.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if n.SentAt.IsZero() {
		n.SentAt = d.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer cancel()
		if err := d.sender.Send(ctx, n); err != nil {
			d.logger.Warn("push notification failed",
				zap.Stringer("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every dispatched send has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const previewLength = 120

// ForMessage builds the push for a direct message that missed its
// recipient's socket.
func ForMessage(recipientID, senderID, messageID uuid.UUID, text string) Notification {
	body := text
	if r := []rune(body); len(r) > previewLength {
		body = string(r[:previewLength]) + "…"
	}
	return Notification{
		UserID: recipientID,
		Title:  "New message",
		Body:   body,
		Data: map[string]string{
			"type":       models.NotificationMessage,
			"sender_id":  senderID.String(),
			"message_id": messageID.String(),
		},
	}
}

// ForNotification builds the push for a stored notification.
func ForNotification(recipientID, senderID uuid.UUID, message, kind string) Notification {
	title := "Notification"
	if kind == models.NotificationFriendRequest {
		title = "Friend request"
	}
	return Notification{
		UserID: recipientID,
		Title:  title,
		Body:   message,
		Data: map[string]string{
			"type":      kind,
			"sender_id": senderID.String(),
		},
	}
}
