package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/idempotency"
	"github.com/careforall/donation-platform/common/metrics"
	"github.com/careforall/donation-platform/common/money"
)

type service struct {
	store       LedgerStore
	replay      ReplayStore
	maxTransfer decimal.Decimal
	metrics     *metrics.LedgerMetrics
	logger      *zap.Logger
}

func NewService(store LedgerStore, replay ReplayStore, maxTransfer decimal.Decimal, m *metrics.LedgerMetrics, logger *zap.Logger) *service {
	return &service{store: store, replay: replay, maxTransfer: maxTransfer, metrics: m, logger: logger}
}

func (s *service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	deposit := decimal.Zero
	if req.InitialDeposit != "" {
		var err error
		deposit, err = money.ParseAmount(req.InitialDeposit, s.maxTransfer)
		if err != nil {
			return nil, err
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	if err := money.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	account := &Account{
		ID:                uuid.New(),
		UserID:            req.UserID,
		AccountNumber:     GenerateAccountNumber(),
		AccountHolderName: req.AccountHolderName,
		Email:             req.Email,
		Balance:           deposit,
		Currency:          currency,
		Status:            AccountActive,
	}
	if err := s.store.CreateAccount(ctx, account, deposit); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("account_number", account.AccountNumber),
		zap.String("user_id", account.UserID.String()))
	return account, nil
}

func (s *service) GetAccount(ctx context.Context, accountNumber string) (*Account, error) {
	return s.store.GetAccount(ctx, accountNumber)
}

func (s *service) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListAccounts(ctx, f)
}

func (s *service) ListTransactions(ctx context.Context, accountNumber string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTransactions(ctx, accountNumber, limit, offset)
}

// Transfer runs the idempotent movement path. The returned body is
// written to the client verbatim; a non-nil error is a transient
// failure that surfaces as 5xx and is never cached.
func (s *service) Transfer(ctx context.Context, rawBody []byte, headerKey string) (int, []byte, error) {
	timer := prometheus.NewTimer(s.metrics.TransferDuration)
	defer timer.ObserveDuration()

	key := idempotency.DeriveKey(headerKey, rawBody)

	if cached, err := s.replay.Check(ctx, key); err != nil {
		return 0, nil, err
	} else if cached != nil {
		return cached.Status, cached.Body, nil
	}

	var req TransferRequest
	if err := json.Unmarshal(rawBody, &req); err != nil ||
		req.FromAccountNumber == "" || req.ToAccountNumber == "" || req.Amount == "" {
		s.metrics.TransfersProcessed.WithLabelValues("malformed", "none").Inc()
		return http.StatusBadRequest, mustJSON(map[string]string{
			"error": "Malformed transfer request",
		}), nil
	}

	amount, err := money.ParseAmount(req.Amount, s.maxTransfer)
	if err != nil {
		return s.cacheOutcome(ctx, key, "invalid", http.StatusBadRequest,
			map[string]string{"error": err.Error()})
	}

	description := req.Description
	if description == "" {
		description = "Transfer to " + req.ToAccountNumber
	}

	entry, err := s.store.ExecuteTransfer(ctx, TransferProposal{
		FromNumber:  req.FromAccountNumber,
		ToNumber:    req.ToAccountNumber,
		Amount:      amount,
		Description: description,
	}, key)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return s.cacheOutcome(ctx, key, "not_found", http.StatusNotFound,
			map[string]string{"error": err.Error()})
	case errors.Is(err, ErrTransferInvalid):
		return s.cacheOutcome(ctx, key, "rejected", http.StatusBadRequest,
			map[string]string{"error": err.Error()})
	case err != nil:
		return 0, nil, err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return 0, nil, err
	}
	// The 201 row is already persisted in the transfer transaction;
	// Save warms the hot cache and the conflicting insert is a no-op.
	if err := s.replay.Save(ctx, key, idempotency.Response{Body: body, Status: http.StatusCreated}); err != nil {
		s.logger.Warn("failed to save transfer idempotency record", zap.Error(err), zap.String("key", key))
	}

	s.metrics.TransfersProcessed.WithLabelValues("completed", "none").Inc()
	s.logger.Info("transfer completed",
		zap.String("transaction_id", entry.ID.String()),
		zap.String("from", req.FromAccountNumber),
		zap.String("to", req.ToAccountNumber),
		zap.String("amount", amount.StringFixed(2)))
	return http.StatusCreated, body, nil
}

func (s *service) Reverse(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	reversal, err := s.store.ReverseTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer reversed",
		zap.String("original_id", id.String()),
		zap.String("reversal_id", reversal.ID.String()))
	return reversal, nil
}

// cacheOutcome stores a deterministic failure so retries under the
// same key replay it instead of re-running validation.
func (s *service) cacheOutcome(ctx context.Context, key, outcome string, status int, payload map[string]string) (int, []byte, error) {
	body := mustJSON(payload)
	if err := s.replay.Save(ctx, key, idempotency.Response{Body: body, Status: status}); err != nil {
		s.logger.Warn("failed to save transfer idempotency record", zap.Error(err), zap.String("key", key))
	}
	s.metrics.TransfersProcessed.WithLabelValues(outcome, "none").Inc()
	return status, body, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("marshal static response: " + err.Error())
	}
	return b
}
