package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/cache"
	"github.com/careforall/donation-platform/common/metrics"
)

const hotTTL = 30 * time.Second

type service struct {
	store   AggregateStore
	cache   HotCache
	metrics *metrics.CacheMetrics
	logger  *zap.Logger
}

func NewService(store AggregateStore, hot HotCache, m *metrics.CacheMetrics, logger *zap.Logger) *service {
	return &service{store: store, cache: hot, metrics: m, logger: logger}
}

func cacheKey(campaignID uuid.UUID) string {
	return "campaign_totals:" + campaignID.String()
}

// GetTotals serves the tiered read path: hot cache, then snapshot,
// then authoritative recount. Real-time mode skips straight to the
// recount and never touches the caches.
func (s *service) GetTotals(ctx context.Context, campaignID uuid.UUID, realtime bool) (*Totals, error) {
	if realtime {
		s.metrics.Lookups.WithLabelValues(SourceAuthoritative, "bypass").Inc()
		return s.store.Recount(ctx, campaignID)
	}

	key := cacheKey(campaignID)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var t Totals
		if err := json.Unmarshal(data, &t); err == nil {
			s.metrics.Lookups.WithLabelValues(SourceHot, "hit").Inc()
			return &t, nil
		}
		// A corrupt entry falls through to the next tier.
		_ = s.cache.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		// Cache trouble must not fail a read.
		s.logger.Warn("hot cache lookup failed", zap.Error(err))
	}
	s.metrics.Lookups.WithLabelValues(SourceHot, "miss").Inc()

	if t, err := s.store.FromSnapshot(ctx, campaignID); err == nil {
		s.metrics.Lookups.WithLabelValues(SourceSnapshot, "hit").Inc()
		s.metrics.SnapshotAge.Set(t.CacheAgeSeconds)
		s.populateHot(ctx, key, t)
		return t, nil
	} else if !errors.Is(err, ErrNoSnapshot) {
		s.logger.Warn("snapshot lookup failed", zap.Error(err))
	}
	s.metrics.Lookups.WithLabelValues(SourceSnapshot, "miss").Inc()

	t, err := s.store.Recount(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	s.metrics.Lookups.WithLabelValues(SourceAuthoritative, "hit").Inc()
	s.populateHot(ctx, key, t)
	return t, nil
}

func (s *service) populateHot(ctx context.Context, key string, t *Totals) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, hotTTL); err != nil {
		s.logger.Warn("failed to populate hot cache", zap.Error(err), zap.String("key", key))
	}
}

func (s *service) InvalidateCampaign(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.cache.Del(ctx, cacheKey(campaignID)); err != nil {
		return err
	}
	s.logger.Info("invalidated totals cache", zap.String("campaign_id", campaignID.String()))
	return nil
}

// InvalidateByDonation resolves a captured payment's donation to its
// campaign and drops the hot entry for it.
func (s *service) InvalidateByDonation(ctx context.Context, donationID uuid.UUID) error {
	campaignID, err := s.store.ResolveCampaign(ctx, donationID)
	if err != nil {
		return err
	}
	return s.InvalidateCampaign(ctx, campaignID)
}

func (s *service) RefreshSnapshot(ctx context.Context) error {
	return s.store.RefreshSnapshot(ctx)
}

// RunRefresher refreshes the snapshot on a timer to bound worst-case
// staleness. Blocks until ctx is done.
func (s *service) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RefreshSnapshot(ctx); err != nil {
				s.logger.Error("snapshot refresh failed", zap.Error(err))
				continue
			}
			s.logger.Debug("snapshot refreshed")
		}
	}
}
