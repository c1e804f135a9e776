package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echolink/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, sender_id, recipient_id, body, reply_to_id, created_at`

func (s *MessageStore) Create(ctx context.Context, senderID, recipientID uuid.UUID, body string, replyToID *uuid.UUID) (*models.Message, error) {
	// id and created_at come from column defaults; RETURNING hands them back.
	query := `
		INSERT INTO messages (sender_id, recipient_id, body, reply_to_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + messageColumns

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, senderID, recipientID, body, replyToID))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *MessageStore) ListConversation(ctx context.Context, userA, userB uuid.UUID, before time.Time, limit int) ([]models.Message, error) {
	// Both directions of the conversation, newest first. A zero cursor
	// means "start from the latest" and skips the created_at filter.
	var query string
	var args []any

	if !before.IsZero() {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			  AND created_at < $3
			ORDER BY created_at DESC
			LIMIT $4`
		args = []any{userA, userB, before, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
			ORDER BY created_at DESC
			LIMIT $3`
		args = []any{userA, userB, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	if err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Body,
		&msg.ReplyToID,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
