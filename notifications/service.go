package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/events"
)

// DonationPayload is the slice of a donation event the notifier needs.
type DonationPayload struct {
	ID         uuid.UUID `json:"id"`
	DonorEmail string    `json:"donor_email"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
}

type service struct {
	store  NotificationStore
	sender Sender
	logger *zap.Logger
}

func NewService(store NotificationStore, sender Sender, logger *zap.Logger) *service {
	return &service{store: store, sender: sender, logger: logger}
}

// templateFor maps an event kind to the message template.
func templateFor(eventType string) string {
	if eventType == events.DonationCreated {
		return "donation_confirmation"
	}
	return "donation_completed"
}

// ProcessDonationEvent records and sends one notification.
// ErrAlreadyNotified means a previous delivery already SENT this one;
// a redelivery that finds a FAILED or PENDING row resumes it, so a
// transient send failure is retried instead of swallowed as a
// duplicate. Any other error is transient and worth a retry.
func (s *service) ProcessDonationEvent(ctx context.Context, eventType string, payload DonationPayload) (*Notification, error) {
	if payload.ID == uuid.Nil || payload.DonorEmail == "" {
		return nil, fmt.Errorf("donation event missing id or donor_email")
	}

	n := &Notification{
		ID:         uuid.New(),
		DonationID: payload.ID,
		EventType:  eventType,
		Recipient:  payload.DonorEmail,
		Type:       ChannelEmail,
		Status:     StatusPending,
		TemplateID: templateFor(eventType),
		Payload: map[string]any{
			"donation_id": payload.ID.String(),
			"amount":      payload.Amount,
			"currency":    payload.Currency,
			"status":      payload.Status,
		},
	}

	if err := s.store.Create(ctx, n); err != nil {
		if !errors.Is(err, ErrAlreadyNotified) {
			return nil, err
		}
		existing, findErr := s.store.FindByEvent(ctx, n.DonationID, n.EventType)
		if findErr != nil {
			return nil, findErr
		}
		if existing.Status == StatusSent {
			return nil, ErrAlreadyNotified
		}
		// The earlier delivery inserted the row but the send never
		// landed; this redelivery is its retry.
		n = existing
	}

	if err := s.sender.Send(ctx, n.Recipient, n.TemplateID, n.Payload); err != nil {
		if markErr := s.store.MarkResult(ctx, n.ID, StatusFailed, nil); markErr != nil {
			s.logger.Error("failed to mark notification failed", zap.Error(markErr))
		}
		return nil, fmt.Errorf("send failed: %w", err)
	}

	now := time.Now().UTC()
	if err := s.store.MarkResult(ctx, n.ID, StatusSent, &now); err != nil {
		return nil, err
	}
	n.Status = StatusSent
	n.SentAt = &now

	s.logger.Info("notification sent",
		zap.String("donation_id", n.DonationID.String()),
		zap.String("event_type", n.EventType),
		zap.String("recipient", n.Recipient))
	return n, nil
}

// SendDirect serves the internal HTTP endpoint other services call.
func (s *service) SendDirect(ctx context.Context, req SendRequest) (*Notification, error) {
	channel := req.Type
	if channel == "" {
		channel = ChannelEmail
	}

	n := &Notification{
		ID:         uuid.New(),
		DonationID: req.DonationID,
		EventType:  req.EventType,
		Recipient:  req.Recipient,
		Type:       channel,
		Status:     StatusPending,
		TemplateID: req.TemplateID,
		Payload:    req.Payload,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, n.Recipient, n.TemplateID, n.Payload); err != nil {
		if markErr := s.store.MarkResult(ctx, n.ID, StatusFailed, nil); markErr != nil {
			s.logger.Error("failed to mark notification failed", zap.Error(markErr))
		}
		n.Status = StatusFailed
		return n, nil
	}

	now := time.Now().UTC()
	if err := s.store.MarkResult(ctx, n.ID, StatusSent, &now); err != nil {
		return nil, err
	}
	n.Status = StatusSent
	n.SentAt = &now
	return n, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.store.Get(ctx, id)
}

func (s *service) List(ctx context.Context, recipient string, limit, offset int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, recipient, limit, offset)
}
