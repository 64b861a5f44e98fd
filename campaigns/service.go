package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/money"
)

type service struct {
	store   CampaignStore
	maxGoal decimal.Decimal
	logger  *zap.Logger
}

func NewService(store CampaignStore, maxGoal decimal.Decimal, logger *zap.Logger) *service {
	return &service{store: store, maxGoal: maxGoal, logger: logger}
}

func (s *service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error) {
	goal, err := money.ParseAmount(req.GoalAmount, s.maxGoal)
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
	if req.EndDate != nil && req.EndDate.Before(time.Now()) {
		return nil, ErrEndDateInPast
	}

	campaign := &Campaign{
		ID:          uuid.New(),
		Title:       req.Title,
		Description: req.Description,
		GoalAmount:  goal,
		Currency:    currency,
		Status:      StatusActive,
		Category:    req.Category,
		EndDate:     req.EndDate,
	}

	if err := s.store.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("goal_amount", campaign.GoalAmount.StringFixed(2)),
	)
	return campaign, nil
}

func (s *service) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListCampaigns(ctx context.Context, f CampaignFilter) ([]*Campaign, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

func (s *service) UpdateCampaign(ctx context.Context, id uuid.UUID, req UpdateCampaignRequest) (*Campaign, error) {
	var goal *decimal.Decimal
	if req.GoalAmount != nil {
		parsed, err := money.ParseAmount(*req.GoalAmount, s.maxGoal)
		if err != nil {
			return nil, err
		}
		goal = &parsed
	}

	campaign, err := s.store.Update(ctx, id, func(c *Campaign) error {
		if c.Status == StatusCompleted || c.Status == StatusCancelled {
			return ErrCampaignClosed
		}
		if req.Title != nil {
			c.Title = *req.Title
		}
		if req.Description != nil {
			c.Description = *req.Description
		}
		if goal != nil {
			c.GoalAmount = *goal
		}
		if req.Category != nil {
			c.Category = *req.Category
		}
		if req.EndDate != nil {
			c.EndDate = req.EndDate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign updated",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("version", campaign.Version),
	)
	return campaign, nil
}

func (s *service) CloseCampaign(ctx context.Context, id uuid.UUID, cancelled bool) (*Campaign, error) {
	status := StatusCompleted
	if cancelled {
		status = StatusCancelled
	}

	campaign, err := s.store.Close(ctx, id, status)
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign closed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("status", campaign.Status),
	)
	return campaign, nil
}
