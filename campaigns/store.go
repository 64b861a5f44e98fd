package main

import (
	"context"
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

const campaignColumns = `id, title, description, goal_amount, currency, status,
	category, end_date, version, created_at, updated_at`

func (s *store) Create(ctx context.Context, campaign *Campaign) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns
			(id, title, description, goal_amount, currency, status, category, end_date, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at
	`, campaign.ID, campaign.Title, campaign.Description, campaign.GoalAmount,
		campaign.Currency, campaign.Status, campaign.Category, campaign.EndDate,
	).Scan(&campaign.Version, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	if err := outbox.Insert(ctx, tx, campaign.ID, events.CampaignCreated, campaign); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *store) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

func (s *store) List(ctx context.Context, f CampaignFilter) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign rows error: %w", err)
	}
	return campaigns, nil
}

func (s *store) Update(ctx context.Context, id uuid.UUID, apply func(*Campaign) error) (*Campaign, error) {
	return s.mutate(ctx, id, events.CampaignUpdated, apply)
}

func (s *store) Close(ctx context.Context, id uuid.UUID, status string) (*Campaign, error) {
	return s.mutate(ctx, id, events.CampaignClosed, func(c *Campaign) error {
		if c.Status == StatusCompleted || c.Status == StatusCancelled {
			return ErrCampaignClosed
		}
		c.Status = status
		return nil
	})
}

func (s *store) mutate(ctx context.Context, id uuid.UUID, eventType string, apply func(*Campaign) error) (*Campaign, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
	campaign, err := scanCampaign(row)
	if err != nil {
		return nil, err
	}

	if err := apply(campaign); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE campaigns
		SET title = $2, description = $3, goal_amount = $4, status = $5,
		    category = $6, end_date = $7, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at
	`, id, campaign.Title, campaign.Description, campaign.GoalAmount,
		campaign.Status, campaign.Category, campaign.EndDate,
	).Scan(&campaign.Version, &campaign.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	if err := outbox.Insert(ctx, tx, campaign.ID, eventType, campaign); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit campaign update: %w", err)
	}
	return campaign, nil
}

func scanCampaign(row pgx.Row) (*Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.GoalAmount, &c.Currency,
		&c.Status, &c.Category, &c.EndDate, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}
	return &c, nil
}
