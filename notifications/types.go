package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Notification channels.
const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// Notification statuses.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

var (
	// ErrAlreadyNotified means a notification for this (donation,
	// event) pair exists; the delivery is a duplicate.
	ErrAlreadyNotified      = errors.New("notification already recorded")
	ErrNotificationNotFound = errors.New("notification not found")
)

// Notification is one outbound message, keyed uniquely per donation
// and event kind so duplicate bus deliveries never send twice.
type Notification struct {
	ID         uuid.UUID      `json:"id"`
	DonationID uuid.UUID      `json:"donation_id"`
	EventType  string         `json:"event_type"`
	Recipient  string         `json:"recipient"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	TemplateID string         `json:"template_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	RetryCount int            `json:"retry_count"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SendRequest is the POST /v1/notifications/send body (internal API).
type SendRequest struct {
	DonationID uuid.UUID      `json:"donation_id" binding:"required"`
	EventType  string         `json:"event_type" binding:"required"`
	Recipient  string         `json:"recipient" binding:"required,email"`
	Type       string         `json:"type"`
	TemplateID string         `json:"template_id" binding:"required"`
	Payload    map[string]any `json:"payload"`
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	// Create inserts a PENDING row; ErrAlreadyNotified when the
	// (donation_id, event_type) pair exists.
	Create(ctx context.Context, n *Notification) error
	// FindByEvent returns the row a previous delivery inserted for
	// the (donation_id, event_type) pair.
	FindByEvent(ctx context.Context, donationID uuid.UUID, eventType string) (*Notification, error)
	MarkResult(ctx context.Context, id uuid.UUID, status string, sentAt *time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	List(ctx context.Context, recipient string, limit, offset int) ([]*Notification, error)
}

// Sender delivers one message. Implementations integrate a provider;
// the consumer only cares whether delivery succeeded.
type Sender interface {
	Send(ctx context.Context, recipient, templateID string, data map[string]any) error
}
