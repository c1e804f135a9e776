package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echolink/internal/models"
)

type NotificationStore struct {
	pool *pgxpool.Pool
}

func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationColumns = `id, recipient_id, sender_id, message, type, is_read, created_at`

func (s *NotificationStore) Create(ctx context.Context, recipientID, senderID uuid.UUID, message, kind string) (*models.Notification, error) {
	query := `
		INSERT INTO notifications (recipient_id, sender_id, message, type)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + notificationColumns

	n, err := scanNotification(s.pool.QueryRow(ctx, query, recipientID, senderID, message, kind))
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (s *NotificationStore) ListByRecipient(ctx context.Context, recipientID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR is_read = false)
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, recipientID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// MarkRead is idempotent: marking an already-read notification still
// reports true. The recipient filter keeps users from touching rows that
// aren't theirs.
func (s *NotificationStore) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID) (bool, error) {
	query := `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND recipient_id = $2`

	tag, err := s.pool.Exec(ctx, query, notificationID, recipientID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	if err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.SenderID,
		&n.Message,
		&n.Type,
		&n.IsRead,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
