package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Donation statuses. COMPLETED, FAILED and REFUNDED are terminal.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRefunded  = "REFUNDED"
)

var (
	ErrDonationNotFound = errors.New("donation not found")
	ErrTerminalStatus   = errors.New("donation status is terminal")
	ErrUnknownStatus    = errors.New("unknown donation status")
)

// Donation is a recorded pledge to donate.
type Donation struct {
	ID              uuid.UUID       `json:"id"`
	CampaignID      uuid.UUID       `json:"campaign_id"`
	DonorEmail      string          `json:"donor_email"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	ExtraData       map[string]any  `json:"extra_data,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateDonationRequest is the POST /v1/donations body.
type CreateDonationRequest struct {
	CampaignID uuid.UUID      `json:"campaign_id" binding:"required"`
	DonorEmail string         `json:"donor_email" binding:"required,email"`
	Amount     string         `json:"amount" binding:"required"`
	Currency   string         `json:"currency"`
	ExtraData  map[string]any `json:"extra_data"`
}

// UpdateStatusRequest is the PATCH /v1/donations/{id}/status body,
// used internally by the payment pipeline.
type UpdateStatusRequest struct {
	Status          string  `json:"status" binding:"required"`
	PaymentIntentID *string `json:"payment_intent_id"`
}

// DonationStore persists donations together with their outbox events.
type DonationStore interface {
	// Create inserts the donation and its DonationCreated outbox row in
	// one transaction.
	Create(ctx context.Context, donation *Donation) error
	Get(ctx context.Context, id uuid.UUID) (*Donation, error)
	History(ctx context.Context, donorEmail string, limit, offset int) ([]*Donation, error)
	// UpdateStatus flips the status, bumps version and writes the
	// DonationStatusChanged outbox row in one transaction.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, paymentIntentID *string) (*Donation, error)
}

// DonationService is the business surface the HTTP handler consumes.
type DonationService interface {
	CreateDonation(ctx context.Context, req CreateDonationRequest) (*Donation, error)
	GetDonation(ctx context.Context, id uuid.UUID) (*Donation, error)
	GetHistory(ctx context.Context, donorEmail string, limit, offset int) ([]*Donation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, req UpdateStatusRequest) (*Donation, error)
}
