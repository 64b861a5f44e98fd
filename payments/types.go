package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/careforall/donation-platform/common/idempotency"
)

// Payment intent statuses.
const (
	StatusInitiated  = "INITIATED"
	StatusAuthorized = "AUTHORIZED"
	StatusCaptured   = "CAPTURED"
	StatusFailed     = "FAILED"
	StatusRefunded   = "REFUNDED"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotRefundable   = errors.New("payment is not in CAPTURED status")
)

// PaymentIntent tracks one gateway-side charge attempt.
type PaymentIntent struct {
	ID              uuid.UUID       `json:"id"`
	DonationID      uuid.UUID       `json:"donation_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Gateway         string          `json:"gateway"`
	GatewayResponse map[string]any  `json:"gateway_response,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateIntentRequest is the POST /v1/payments/intent body.
type CreateIntentRequest struct {
	DonationID uuid.UUID `json:"donation_id" binding:"required"`
	Amount     string    `json:"amount" binding:"required"`
	Currency   string    `json:"currency"`
	Gateway    string    `json:"gateway"`
}

// WebhookEvent is a parsed gateway notification.
type WebhookEvent struct {
	EventType       string         `json:"event_type"`
	PaymentIntentID string         `json:"payment_intent_id"`
	Status          string         `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	Data            map[string]any `json:"data,omitempty"`
}

// Webhook outcome kinds. Only transient failures fall outside these;
// every listed outcome is deterministic and therefore cacheable under
// the request's idempotency key.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
)

// WebhookOutcome is the result of applying one gateway event.
type WebhookOutcome struct {
	Result    string
	PaymentID uuid.UUID
	OldStatus string
	NewStatus string
	Version   int
}

// IntentStore persists payment intents, their transition history and
// the outbox events they emit.
type IntentStore interface {
	CreateIntent(ctx context.Context, intent *PaymentIntent) error
	GetIntent(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)
	// ApplyWebhook loads the intent under a row lock and applies the
	// event: out-of-order and invalid transitions are reported in the
	// outcome, accepted transitions update the intent, append a history
	// row and enqueue the PaymentStatus outbox event, all in one
	// transaction. eventID keys the audit row.
	ApplyWebhook(ctx context.Context, event WebhookEvent, eventID string) (*WebhookOutcome, error)
	// Refund transitions a CAPTURED intent to REFUNDED.
	Refund(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)
}

// IdempotencyStore is the dual-layer replay store surface.
type IdempotencyStore interface {
	Check(ctx context.Context, key string) (*idempotency.Response, error)
	Save(ctx context.Context, key string, resp idempotency.Response) error
}

// PaymentService is the business surface the HTTP handler consumes.
type PaymentService interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)
	HandleWebhook(ctx context.Context, rawBody []byte, headerKey string) (status int, body []byte, err error)
	Refund(ctx context.Context, id uuid.UUID) (*PaymentIntent, error)
}
