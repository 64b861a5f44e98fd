package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *store {
	return &store{pool: pool}
}

const notificationColumns = `id, donation_id, event_type, recipient, type, status,
	template_id, payload, retry_count, sent_at, created_at`

func (s *store) Create(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO notifications
			(id, donation_id, event_type, recipient, type, status, template_id, payload, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		RETURNING created_at
	`, n.ID, n.DonationID, n.EventType, n.Recipient, n.Type, n.Status,
		n.TemplateID, payload,
	).Scan(&n.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyNotified
	}
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *store) FindByEvent(ctx context.Context, donationID uuid.UUID, eventType string) (*Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE donation_id = $1 AND event_type = $2`,
		donationID, eventType)
	return scanNotification(row)
}

func (s *store) MarkResult(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, sent_at = $3,
		    retry_count = retry_count + CASE WHEN $2 = 'FAILED' THEN 1 ELSE 0 END
		WHERE id = $1
	`, id, status, sentAt)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	return scanNotification(row)
}

func (s *store) List(ctx context.Context, recipient string, limit, offset int) ([]*Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, recipient, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification rows error: %w", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var payload []byte
	err := row.Scan(&n.ID, &n.DonationID, &n.EventType, &n.Recipient, &n.Type,
		&n.Status, &n.TemplateID, &payload, &n.RetryCount, &n.SentAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &n, nil
}
