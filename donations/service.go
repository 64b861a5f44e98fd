package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/cache"
	"github.com/careforall/donation-platform/common/money"
)

const donationCacheTTL = 5 * time.Minute

var validStatuses = map[string]bool{
	StatusPending:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusRefunded:  true,
}

// ReadCache is the small cache surface GetDonation uses.
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type service struct {
	store     DonationStore
	cache     ReadCache
	maxPledge decimal.Decimal
	logger    *zap.Logger
}

func NewService(store DonationStore, readCache ReadCache, maxPledge decimal.Decimal, logger *zap.Logger) *service {
	return &service{store: store, cache: readCache, maxPledge: maxPledge, logger: logger}
}

func (s *service) CreateDonation(ctx context.Context, req CreateDonationRequest) (*Donation, error) {
	amount, err := money.ParseAmount(req.Amount, s.maxPledge)
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

	donation := &Donation{
		ID:         uuid.New(),
		CampaignID: req.CampaignID,
		DonorEmail: req.DonorEmail,
		Amount:     amount,
		Currency:   currency,
		Status:     StatusPending,
		ExtraData:  req.ExtraData,
	}

	if err := s.store.Create(ctx, donation); err != nil {
		return nil, fmt.Errorf("failed to create donation: %w", err)
	}

	s.logger.Info("donation created",
		zap.String("donation_id", donation.ID.String()),
		zap.String("campaign_id", donation.CampaignID.String()),
		zap.String("amount", donation.Amount.StringFixed(2)),
	)
	return donation, nil
}

func (s *service) GetDonation(ctx context.Context, id uuid.UUID) (*Donation, error) {
	key := cacheKey(id)

	if data, err := s.cache.Get(ctx, key); err == nil {
		var donation Donation
		if err := json.Unmarshal(data, &donation); err == nil {
			return &donation, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("donation cache read failed", zap.Error(err))
	}

	donation, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(donation); err == nil {
		if err := s.cache.Set(ctx, key, data, donationCacheTTL); err != nil {
			s.logger.Warn("donation cache write failed", zap.Error(err))
		}
	}
	return donation, nil
}

func (s *service) GetHistory(ctx context.Context, donorEmail string, limit, offset int) ([]*Donation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.History(ctx, donorEmail, limit, offset)
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, req UpdateStatusRequest) (*Donation, error) {
	if !validStatuses[req.Status] {
		return nil, ErrUnknownStatus
	}

	donation, err := s.store.UpdateStatus(ctx, id, req.Status, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("donation cache invalidation failed", zap.Error(err))
	}

	s.logger.Info("donation status updated",
		zap.String("donation_id", id.String()),
		zap.String("status", req.Status),
		zap.Int("version", donation.Version),
	)
	return donation, nil
}

func cacheKey(id uuid.UUID) string {
	return "donation:" + id.String()
}
