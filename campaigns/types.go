package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Campaign statuses.
const (
	StatusActive    = "ACTIVE"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignClosed   = errors.New("campaign is already closed")
	ErrEndDateInPast    = errors.New("end_date is in the past")
)

// Campaign is a fundraising drive donations attach to.
type Campaign struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	GoalAmount  decimal.Decimal `json:"goal_amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Category    string          `json:"category,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateCampaignRequest is the POST /v1/campaigns body.
type CreateCampaignRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	GoalAmount  string     `json:"goal_amount" binding:"required"`
	Currency    string     `json:"currency"`
	Category    string     `json:"category"`
	EndDate     *time.Time `json:"end_date"`
}

// UpdateCampaignRequest is the PATCH /v1/campaigns/:id body. Nil
// fields are left unchanged.
type UpdateCampaignRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	GoalAmount  *string    `json:"goal_amount"`
	Category    *string    `json:"category"`
	EndDate     *time.Time `json:"end_date"`
}

// CampaignFilter narrows List.
type CampaignFilter struct {
	Status   string
	Category string
	Limit    int
	Offset   int
}

// CampaignStore persists campaigns and their outbox events.
type CampaignStore interface {
	Create(ctx context.Context, campaign *Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*Campaign, error)
	List(ctx context.Context, f CampaignFilter) ([]*Campaign, error)
	// Update applies the mutation under a row lock and emits
	// CampaignUpdated in the same transaction.
	Update(ctx context.Context, id uuid.UUID, apply func(*Campaign) error) (*Campaign, error)
	// Close sets the terminal status and emits CampaignClosed.
	Close(ctx context.Context, id uuid.UUID, status string) (*Campaign, error)
}

// CampaignService is the business surface the HTTP handler consumes.
type CampaignService interface {
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error)
	ListCampaigns(ctx context.Context, f CampaignFilter) ([]*Campaign, error)
	UpdateCampaign(ctx context.Context, id uuid.UUID, req UpdateCampaignRequest) (*Campaign, error)
	CloseCampaign(ctx context.Context, id uuid.UUID, cancelled bool) (*Campaign, error)
}
