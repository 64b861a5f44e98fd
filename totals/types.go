package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Data sources, reported on every totals response.
const (
	SourceHot           = "redis"
	SourceSnapshot      = "materialized_view"
	SourceAuthoritative = "realtime"
)

// ErrNoSnapshot means the snapshot has no row for the campaign yet
// (campaign created after the last refresh).
var ErrNoSnapshot = errors.New("no snapshot row for campaign")

// Totals is one campaign's aggregate over COMPLETED donations.
type Totals struct {
	CampaignID      uuid.UUID       `json:"campaign_id"`
	TotalDonations  int64           `json:"total_donations"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	UniqueDonors    int64           `json:"unique_donors"`
	LastUpdated     time.Time       `json:"last_updated"`
	DataSource      string          `json:"data_source"`
	CacheAgeSeconds float64         `json:"cache_age_seconds"`
}

// AggregateStore reads the snapshot and the base table.
type AggregateStore interface {
	// FromSnapshot reads the pre-aggregated row; CacheAgeSeconds is the
	// snapshot age at read time.
	FromSnapshot(ctx context.Context, campaignID uuid.UUID) (*Totals, error)
	// Recount aggregates the base table directly.
	Recount(ctx context.Context, campaignID uuid.UUID) (*Totals, error)
	// RefreshSnapshot rebuilds the snapshot without blocking readers.
	RefreshSnapshot(ctx context.Context) error
	// ResolveCampaign maps a donation to its campaign.
	ResolveCampaign(ctx context.Context, donationID uuid.UUID) (uuid.UUID, error)
}

// HotCache is the T1 layer.
type HotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// TotalsService is the read surface the HTTP handler and the consumer
// share.
type TotalsService interface {
	GetTotals(ctx context.Context, campaignID uuid.UUID, realtime bool) (*Totals, error)
	InvalidateCampaign(ctx context.Context, campaignID uuid.UUID) error
	InvalidateByDonation(ctx context.Context, donationID uuid.UUID) error
	RefreshSnapshot(ctx context.Context) error
}
