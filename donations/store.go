package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/outbox"
)

type store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *store {
	return &store{pool: pool}
}

const donationColumns = `id, campaign_id, donor_email, amount, currency, status,
	payment_intent_id, extra_data, version, created_at, updated_at`

func (s *store) Create(ctx context.Context, donation *Donation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	extra, err := json.Marshal(donation.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to marshal extra data: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO donations (id, campaign_id, donor_email, amount, currency, status, extra_data, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		RETURNING version, created_at, updated_at
	`, donation.ID, donation.CampaignID, donation.DonorEmail, donation.Amount,
		donation.Currency, donation.Status, extra,
	).Scan(&donation.Version, &donation.CreatedAt, &donation.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert donation: %w", err)
	}

	// Same transaction: losing the event without the row (or the row
	// without the event) is impossible.
	if err := outbox.Insert(ctx, tx, donation.ID, events.DonationCreated, donation); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (*Donation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1`, id)
	return scanDonation(row)
}

func (s *store) History(ctx context.Context, donorEmail string, limit, offset int) ([]*Donation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+donationColumns+`
		FROM donations
		WHERE donor_email = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, donorEmail, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query donation history: %w", err)
	}
	defer rows.Close()

	var donations []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("donation rows error: %w", err)
	}
	return donations, nil
}

func (s *store) UpdateStatus(ctx context.Context, id uuid.UUID, status string, paymentIntentID *string) (*Donation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE id = $1 FOR UPDATE`, id)
	donation, err := scanDonation(row)
	if err != nil {
		return nil, err
	}

	// Terminal statuses never move again for the same intent.
	if donation.Status != StatusPending && donation.Status != status {
		return nil, ErrTerminalStatus
	}

	donation.Status = status
	if paymentIntentID != nil {
		donation.PaymentIntentID = paymentIntentID
	}

	err = tx.QueryRow(ctx, `
		UPDATE donations
		SET status = $2, payment_intent_id = COALESCE($3, payment_intent_id),
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at
	`, id, status, paymentIntentID).Scan(&donation.Version, &donation.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update donation status: %w", err)
	}

	eventType := events.StatusEvent(events.DonationStatusChanged, status)
	if err := outbox.Insert(ctx, tx, donation.ID, eventType, donation); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return donation, nil
}

func scanDonation(row pgx.Row) (*Donation, error) {
	var d Donation
	var extra []byte
	err := row.Scan(&d.ID, &d.CampaignID, &d.DonorEmail, &d.Amount, &d.Currency,
		&d.Status, &d.PaymentIntentID, &extra, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDonationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan donation: %w", err)
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &d.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra data: %w", err)
		}
	}
	return &d, nil
}
