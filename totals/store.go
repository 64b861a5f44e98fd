package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *store {
	return &store{pool: pool}
}

func (s *store) FromSnapshot(ctx context.Context, campaignID uuid.UUID) (*Totals, error) {
	var t Totals
	err := s.pool.QueryRow(ctx, `
		SELECT campaign_id, total_donations, total_amount, unique_donors, last_updated
		FROM campaign_totals
		WHERE campaign_id = $1
	`, campaignID).Scan(&t.CampaignID, &t.TotalDonations, &t.TotalAmount,
		&t.UniqueDonors, &t.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	t.DataSource = SourceSnapshot
	t.CacheAgeSeconds = time.Since(t.LastUpdated).Seconds()
	return &t, nil
}

func (s *store) Recount(ctx context.Context, campaignID uuid.UUID) (*Totals, error) {
	t := Totals{CampaignID: campaignID, DataSource: SourceAuthoritative}
	var lastUpdated *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0), COUNT(DISTINCT donor_email), MAX(updated_at)
		FROM donations
		WHERE campaign_id = $1 AND status = 'COMPLETED'
	`, campaignID).Scan(&t.TotalDonations, &t.TotalAmount, &t.UniqueDonors, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to recount totals: %w", err)
	}

	if lastUpdated != nil {
		t.LastUpdated = *lastUpdated
	} else {
		t.LastUpdated = time.Now().UTC()
	}
	return &t, nil
}

// RefreshSnapshot rebuilds the aggregation concurrently so readers on
// the snapshot are never blocked. Requires the unique index on
// campaign_id.
func (s *store) RefreshSnapshot(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY campaign_totals`)
	if err != nil {
		return fmt.Errorf("failed to refresh campaign_totals: %w", err)
	}
	return nil
}

func (s *store) ResolveCampaign(ctx context.Context, donationID uuid.UUID) (uuid.UUID, error) {
	var campaignID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT campaign_id FROM donations WHERE id = $1`, donationID,
	).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("donation %s not found", donationID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve campaign: %w", err)
	}
	return campaignID, nil
}
