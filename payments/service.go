package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/idempotency"
	"github.com/careforall/donation-platform/common/metrics"
	"github.com/careforall/donation-platform/common/money"
)

type service struct {
	store     IntentStore
	idem      IdempotencyStore
	maxAmount decimal.Decimal
	metrics   *metrics.WebhookMetrics
	logger    *zap.Logger
}

func NewService(store IntentStore, idem IdempotencyStore, maxAmount decimal.Decimal, m *metrics.WebhookMetrics, logger *zap.Logger) *service {
	return &service{store: store, idem: idem, maxAmount: maxAmount, metrics: m, logger: logger}
}

func (s *service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	amount, err := money.ParseAmount(req.Amount, s.maxAmount)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	gateway := req.Gateway
	if gateway == "" {
		gateway = "stripe"
	}

	intentRef := NewIntentRef()
	intent := &PaymentIntent{
		ID:              uuid.New(),
		DonationID:      req.DonationID,
		PaymentIntentID: intentRef,
		Amount:          amount,
		Currency:        currency,
		Status:          StatusInitiated,
		Gateway:         gateway,
		// Snapshot of what the gateway hands back on intent creation;
		// later webhook payloads overwrite this wholesale.
		GatewayResponse: map[string]any{"client_secret": NewClientSecret(intentRef)},
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.String("payment_id", intent.ID.String()),
		zap.String("payment_intent_id", intent.PaymentIntentID),
		zap.String("donation_id", intent.DonationID.String()))
	return intent, nil
}

func (s *service) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	return s.store.GetIntent(ctx, id)
}

func (s *service) Refund(ctx context.Context, id uuid.UUID) (*PaymentIntent, error) {
	intent, err := s.store.Refund(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment refunded",
		zap.String("payment_id", intent.ID.String()),
		zap.Int("version", intent.Version))
	return intent, nil
}

// HandleWebhook runs the full ingestion path: idempotent replay check,
// event parsing, state transition, response caching. The returned body
// is written to the client verbatim; a non-nil error means a transient
// failure that must surface as a 5xx and must NOT be cached.
func (s *service) HandleWebhook(ctx context.Context, rawBody []byte, headerKey string) (int, []byte, error) {
	key := idempotency.DeriveKey(headerKey, rawBody)

	// Replay hits are counted by the idempotency store's layer hook.
	if cached, err := s.idem.Check(ctx, key); err != nil {
		return 0, nil, err
	} else if cached != nil {
		return cached.Status, cached.Body, nil
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || event.PaymentIntentID == "" || event.Status == "" {
		// Malformed deliveries are never cached: the gateway may resend
		// a corrected body under the same key.
		s.metrics.Processed.WithLabelValues("malformed", "false").Inc()
		return http.StatusBadRequest, mustJSON(map[string]string{
			"error": "Malformed webhook payload",
		}), nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventID := event.EventType + ":" + key
	outcome, err := s.store.ApplyWebhook(ctx, event, eventID)

	var status int
	var body []byte
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		status = http.StatusNotFound
		body = mustJSON(map[string]string{"error": "Payment not found"})
	case err != nil:
		return 0, nil, err
	case outcome.Result == OutcomeIgnored:
		status = http.StatusOK
		body = mustJSON(map[string]string{
			"status": "ignored",
			"reason": "out_of_order",
		})
	case outcome.Result == OutcomeRejected:
		status = http.StatusBadRequest
		body = mustJSON(map[string]string{
			"status": "rejected",
			"reason": "invalid_transition",
			"error":  fmt.Sprintf("Invalid state transition: %s -> %s", outcome.OldStatus, outcome.NewStatus),
		})
	default:
		status = http.StatusOK
		body = mustJSON(map[string]any{
			"status":     "processed",
			"payment_id": outcome.PaymentID,
			"old_status": outcome.OldStatus,
			"new_status": outcome.NewStatus,
			"version":    outcome.Version,
		})
	}

	if err := s.idem.Save(ctx, key, idempotency.Response{Body: body, Status: status}); err != nil {
		// The response is already computed; losing the cache entry only
		// costs a replayed transition check on the next delivery.
		s.logger.Warn("failed to save idempotency record", zap.Error(err), zap.String("key", key))
	}

	result := OutcomeNotFound
	if outcome != nil {
		result = outcome.Result
	}
	s.metrics.Processed.WithLabelValues(result, "false").Inc()
	s.logger.Info("webhook handled",
		zap.String("intent_ref", event.PaymentIntentID),
		zap.String("result", result),
		zap.Int("http_status", status))
	return status, body, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("marshal static response: " + err.Error())
	}
	return b
}
