package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

const intentColumns = `id, donation_id, payment_intent_id, amount, currency, status,
	gateway, gateway_response, version, created_at, updated_at`

// NewIntentRef generates a gateway-style intent reference, pi_<24 hex>.
func NewIntentRef() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return "pi_" + hex.EncodeToString(buf)
}

// NewClientSecret derives the client-side confirmation secret for an
// intent reference, in the gateway's <ref>_secret_<16 hex> shape.
func NewClientSecret(intentRef string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return intentRef + "_secret_" + hex.EncodeToString(buf)
}

func (s *store) CreateIntent(ctx context.Context, intent *PaymentIntent) error {
	gw, err := json.Marshal(intent.GatewayResponse)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway response: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO payment_transactions
			(id, donation_id, payment_intent_id, amount, currency, status, gateway, gateway_response, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at
	`, intent.ID, intent.DonationID, intent.PaymentIntentID, intent.Amount,
		intent.Currency, intent.Status, intent.Gateway, gw,
	).Scan(&intent.Version, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

func (s *store) GetIntent(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanIntent(row)
}

func (s *store) ApplyWebhook(ctx context.Context, event WebhookEvent, eventID string) (*WebhookOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_transactions WHERE payment_intent_id = $1 FOR UPDATE`,
		event.PaymentIntentID)
	intent, err := scanIntent(row)
	if err != nil {
		return nil, err
	}

	// Gateways retry with the original timestamp; a retry that arrives
	// after a newer event already advanced the row must not rewind it.
	if event.Timestamp.Before(intent.UpdatedAt) {
		return &WebhookOutcome{
			Result:    OutcomeIgnored,
			PaymentID: intent.ID,
			OldStatus: intent.Status,
			Version:   intent.Version,
		}, nil
	}

	if !ValidateTransition(intent.Status, event.Status) {
		return &WebhookOutcome{
			Result:    OutcomeRejected,
			PaymentID: intent.ID,
			OldStatus: intent.Status,
			NewStatus: event.Status,
			Version:   intent.Version,
		}, nil
	}

	oldStatus := intent.Status
	gw, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway data: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2, gateway_response = $3, version = version + 1, updated_at = $4
		WHERE id = $1
		RETURNING version, updated_at
	`, intent.ID, event.Status, gw, event.Timestamp).Scan(&intent.Version, &intent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	intent.Status = event.Status
	intent.GatewayResponse = event.Data

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_state_history
			(payment_intent_id, from_status, to_status, event_id, event_timestamp, version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.PaymentIntentID, oldStatus, event.Status, eventID, event.Timestamp, intent.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to insert state history: %w", err)
	}

	eventType := events.StatusEvent(events.PaymentStatusEventKind, event.Status)
	if err := outbox.Insert(ctx, tx, intent.ID, eventType, intent); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit webhook transaction: %w", err)
	}

	return &WebhookOutcome{
		Result:    OutcomeProcessed,
		PaymentID: intent.ID,
		OldStatus: oldStatus,
		NewStatus: intent.Status,
		Version:   intent.Version,
	}, nil
}

func (s *store) Refund(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id)
	intent, err := scanIntent(row)
	if err != nil {
		return nil, err
	}

	if intent.Status != StatusCaptured {
		return nil, ErrNotRefundable
	}
	oldStatus := intent.Status

	err = tx.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at
	`, id, StatusRefunded).Scan(&intent.Version, &intent.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update refund status: %w", err)
	}
	intent.Status = StatusRefunded

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_state_history
			(payment_intent_id, from_status, to_status, event_id, event_timestamp, version)
		VALUES ($1, $2, $3, $4, NOW(), $5)
	`, intent.PaymentIntentID, oldStatus, StatusRefunded, "refund:"+uuid.NewString(), intent.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to insert state history: %w", err)
	}

	if err := outbox.Insert(ctx, tx, intent.ID, events.PaymentRefunded, intent); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit refund: %w", err)
	}
	return intent, nil
}

func scanIntent(row pgx.Row) (*PaymentIntent, error) {
	var p PaymentIntent
	var gw []byte
	err := row.Scan(&p.ID, &p.DonationID, &p.PaymentIntentID, &p.Amount, &p.Currency,
		&p.Status, &p.Gateway, &gw, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	if len(gw) > 0 {
		if err := json.Unmarshal(gw, &p.GatewayResponse); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gateway response: %w", err)
		}
	}
	return &p, nil
}
